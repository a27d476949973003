package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio/wavrec"
)

// Server posts audio to a whisper.cpp server's /inference endpoint.
type Server struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ Transcriber = (*Server)(nil)

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithServerModel sets the model identifier forwarded to the server. When
// empty the server uses whichever model it was started with.
func WithServerModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithHTTPClient overrides the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = c }
}

// NewServer returns a transcriber for the whisper-server at baseURL, e.g.
// "http://localhost:8080".
func NewServer(baseURL string, opts ...ServerOption) (*Server, error) {
	if baseURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	s := &Server{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe implements [Transcriber] by uploading pcm as a WAV file.
func (s *Server) Transcribe(ctx context.Context, pcm []byte, req Request) (string, error) {
	wav, err := wavrec.Encode(pcm, mono16k)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"response_format": "json",
		"language":        req.Language,
		"prompt":          req.Prompt,
		"model":           s.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	hreq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
