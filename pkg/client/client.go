// Package client calls a running sttd instance.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"
)

// Client sends transcription requests to sttd.
type Client struct {
	httpClient *http.Client
	endpoint   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New creates a client for the transcribe endpoint, e.g. http://localhost:8080/transcribe.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		endpoint:   endpoint,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Transcript is the subset of the verbose transcription the client understands.
type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Segment is a timed span of speech. Start and End are in seconds.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Word is a single timed word. Start and End are in seconds.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// Offsets is a span in milliseconds.
type Offsets struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Part is a segment with millisecond offsets.
type Part struct {
	Offsets Offsets `json:"offsets"`
	Text    string  `json:"text"`
}

// Parts converts segments into millisecond-offset parts.
func (t Transcript) Parts() []Part {
	parts := make([]Part, 0, len(t.Segments))
	for _, seg := range t.Segments {
		parts = append(parts, Part{
			Offsets: Offsets{
				From: secondsToMillis(seg.Start),
				To:   secondsToMillis(seg.End),
			},
			Text: seg.Text,
		})
	}

	return parts
}

func secondsToMillis(s float64) int {
	return int(s * float64(time.Second/time.Millisecond))
}

// StatusError is returned when sttd answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sttd: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Transcribe asks sttd to transcribe the file at path. Relative paths are made
// absolute first, since the service resolves them against its own working directory.
func (c *Client) Transcribe(ctx context.Context, path string) (*Transcript, error) {
	raw, err := c.TranscribeRaw(ctx, path)
	if err != nil {
		return nil, err
	}

	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}

	return &t, nil
}

// TranscribeRaw is Transcribe without decoding: it returns the response body as sent.
func (c *Client) TranscribeRaw(ctx context.Context, path string) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve audio path: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("audio", abs)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
