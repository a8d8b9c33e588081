package envvar

const (
	// SttdEnv is the environment variable used to determine the environment
	SttdEnv = "STTD_ENV"

	// SttdModelsPath is the environment variable used to override the models directory
	SttdModelsPath = "STTD_MODELS_PATH"

	// SttdConfigPath is the environment variable used to override the config file location
	SttdConfigPath = "STTD_CONFIG"
)
