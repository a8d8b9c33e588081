package config

import "reflect"

// RestartRequired lists the sections that differ between two configs and only
// take effect on the next process start. Logging is applied live and never listed.
func RestartRequired(old, updated *Config) []string {
	if old == nil || updated == nil {
		return nil
	}

	var sections []string
	if old.Server != updated.Server {
		sections = append(sections, "server")
	}
	if old.Storage != updated.Storage {
		sections = append(sections, "storage")
	}
	if old.Backends != updated.Backends {
		sections = append(sections, "backends")
	}
	if !reflect.DeepEqual(old.Models, updated.Models) {
		sections = append(sections, "models")
	}
	if !reflect.DeepEqual(old.Services, updated.Services) {
		sections = append(sections, "services")
	}

	return sections
}
