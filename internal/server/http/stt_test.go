package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/sttd/internal/backend"
)

const transcript = `{"text":" Привет.","segments":[{"id":0,"start":0.0,"end":1.2,"text":" Привет.",` +
	`"words":[{"word":" Привет.","start":0.0,"end":1.2,"probability":0.93}]}],"language":"russian"}`

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio string) (*backend.Response, error) {
	args := m.Called(ctx, audio)
	if resp, ok := args.Get(0).(*backend.Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

// echoTranscriber answers with a body derived from the audio reference.
type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, audio string) (*backend.Response, error) {
	return &backend.Response{Output: strings.NewReader(fmt.Sprintf(`{"text":%q}`, audio))}, nil
}

// panicTranscriber simulates a bug deep in the call chain.
type panicTranscriber struct{}

func (panicTranscriber) Transcribe(context.Context, string) (*backend.Response, error) {
	panic("unexpected nil model")
}

func TestTranscribe_ReturnsModelOutputUnmodified(t *testing.T) {
	_, api := humatest.New(t, NewAPIConfig("test"))

	svc := new(MockTranscriber)
	svc.On("Transcribe", mock.Anything, "/tmp/sample.wav").Return(&backend.Response{
		Output: strings.NewReader(transcript),
		Metadata: &backend.ResponseMetadata{
			Provider: backend.BackendProviderWhisperCPP,
			Model:    "/models/ggml-small.bin",
		},
	}, nil).Once()

	NewSTTHandler(api, svc)

	resp := api.Post("/transcribe?audio=" + url.QueryEscape("/tmp/sample.wav"))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	assert.Equal(t, transcript, resp.Body.String())

	svc.AssertExpectations(t)
}

func TestTranscribe_MissingAudio(t *testing.T) {
	_, api := humatest.New(t, NewAPIConfig("test"))

	svc := new(MockTranscriber)
	NewSTTHandler(api, svc)

	resp := api.Post("/transcribe")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.Post("/transcribe?audio=")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	svc.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything)
}

func TestTranscribe_ModelFailureIsServerError(t *testing.T) {
	_, api := humatest.New(t, NewAPIConfig("test"))

	svc := new(MockTranscriber)
	svc.On("Transcribe", mock.Anything, "/tmp/missing.wav").
		Return(nil, errors.New("failed to open audio: no such file or directory")).Once()

	NewSTTHandler(api, svc)

	resp := api.Post("/transcribe?audio=/tmp/missing.wav")
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "no such file")

	svc.AssertExpectations(t)
}

func TestRouter_OnlyTranscribeRoute(t *testing.T) {
	srv := httptest.NewServer(NewRouter(echoTranscriber{}, "test"))
	t.Cleanup(srv.Close)

	for _, path := range []string{"/openapi.json", "/docs", "/schemas/ErrorModel.json"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/transcribe?audio=a.wav")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_RequestID(t *testing.T) {
	srv := httptest.NewServer(NewRouter(echoTranscriber{}, "test"))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/transcribe?audio=a.wav", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get(RequestIDHeader), 36)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/transcribe?audio=a.wav", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "caller-42")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "caller-42", resp.Header.Get(RequestIDHeader))
}

func TestRouter_PanicBecomesServerError(t *testing.T) {
	srv := httptest.NewServer(NewRouter(panicTranscriber{}, "test"))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/transcribe?audio=a.wav", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// the server keeps serving
	resp, err = http.Post(srv.URL+"/transcribe?audio=b.wav", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRouter_ConcurrentRequestsGetTheirOwnResult(t *testing.T) {
	srv := httptest.NewServer(NewRouter(echoTranscriber{}, "test"))
	t.Cleanup(srv.Close)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			audio := fmt.Sprintf("/tmp/sample-%02d.wav", i)
			resp, err := http.Post(srv.URL+"/transcribe?audio="+url.QueryEscape(audio), "", nil)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				errs <- err
				return
			}

			if want := fmt.Sprintf(`{"text":%q}`, audio); string(body) != want {
				errs <- fmt.Errorf("got %s, want %s", body, want)
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
