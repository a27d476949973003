// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. Deepgram performs endpointing server side; a
// session reports the endpoint when a result arrives with speech_final set
// or when an UtteranceEnd event is received.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultEndpointMs = 1500
	keywordBoost      = 2

	writeTimeout    = 5 * time.Second
	finalizeTimeout = 3 * time.Second
)

var errSessionClosed = errors.New("deepgram: session is closed")

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointMs sets the trailing silence, in milliseconds, after which
// Deepgram marks a result as speech_final. Defaults to 1500.
func WithEndpointMs(ms int) Option {
	return func(p *Provider) { p.endpointMs = ms }
}

// WithEndpointURL overrides the streaming endpoint. Used in tests.
func WithEndpointURL(u string) Option {
	return func(p *Provider) { p.endpointURL = u }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey      string
	model       string
	language    string
	sampleRate  int
	endpointMs  int
	endpointURL string
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		language:    defaultLanguage,
		sampleRate:  defaultSampleRate,
		endpointMs:  defaultEndpointMs,
		endpointURL: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartSession opens a streaming transcription session with Deepgram.
func (p *Provider) StartSession(ctx context.Context, cfg stt.StreamConfig) (stt.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	s := &session{
		ctx:     ctx,
		conn:    conn,
		cancel:  cancel,
		results: make(chan result, 64),
		done:    make(chan struct{}),
	}
	go s.readLoop(readCtx)
	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpointURL)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("endpointing", strconv.Itoa(p.endpointMs))
	q.Set("utterance_end_ms", strconv.Itoa(max(p.endpointMs, 1000)))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure of a Deepgram streaming event.
type deepgramResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed event relevant to endpointing.
type result struct {
	Text         string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
	UtteranceEnd bool
}

// session is a live Deepgram stream. Process, Flush and Close are called by
// one goroutine; readLoop runs alongside it.
type session struct {
	ctx     context.Context
	conn    *websocket.Conn
	cancel  context.CancelFunc
	results chan result
	done    chan struct{}

	readErr    error // set before done is closed
	endpointed bool
	closed     bool
	once       sync.Once
}

func (s *session) write(typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, typ, data)
}

// Process sends the frame and drains any results that have arrived. Only
// final results contribute text; interim hypotheses are superseded.
func (s *session) Process(frame []byte) (string, bool, error) {
	if s.closed {
		return "", false, errSessionClosed
	}
	if s.endpointed {
		return "", true, nil
	}
	if err := s.write(websocket.MessageBinary, frame); err != nil {
		return "", false, fmt.Errorf("deepgram: send audio: %w", err)
	}

	var text []string
	for {
		select {
		case r := <-s.results:
			if r.IsFinal {
				text = append(text, r.Text)
			}
			if r.SpeechFinal || r.UtteranceEnd {
				s.endpointed = true
				return stt.JoinText(text...), true, nil
			}
		case <-s.done:
			if s.readErr != nil {
				return stt.JoinText(text...), false, fmt.Errorf("deepgram: stream: %w", s.readErr)
			}
			return stt.JoinText(text...), false, nil
		default:
			return stt.JoinText(text...), false, nil
		}
	}
}

// Flush asks Deepgram to finalise buffered audio and waits for the
// resulting final transcript.
func (s *session) Flush() (string, error) {
	if s.closed {
		return "", errSessionClosed
	}
	if err := s.write(websocket.MessageText, []byte(`{"type":"Finalize"}`)); err != nil {
		return "", fmt.Errorf("deepgram: finalize: %w", err)
	}

	timer := time.NewTimer(finalizeTimeout)
	defer timer.Stop()
	var text []string
	for {
		select {
		case r := <-s.results:
			if r.IsFinal {
				text = append(text, r.Text)
			}
			if r.FromFinalize {
				return stt.JoinText(text...), nil
			}
		case <-s.done:
			return stt.JoinText(text...), s.readErr
		case <-timer.C:
			return stt.JoinText(text...), nil
		case <-s.ctx.Done():
			return stt.JoinText(text...), s.ctx.Err()
		}
	}
}

// Close ends the stream. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		s.closed = true
		_ = s.write(websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-s.done
	})
	return nil
}

// readLoop parses server messages until the connection ends.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.done)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.readErr = err
			}
			return
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.results <- r:
		case <-ctx.Done():
			return
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages irrelevant to transcription.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	switch resp.Type {
	case "UtteranceEnd":
		return result{UtteranceEnd: true}, true
	case "Results":
	default:
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	return result{
		Text:         resp.Channel.Alternatives[0].Transcript,
		IsFinal:      resp.IsFinal,
		SpeechFinal:  resp.SpeechFinal,
		FromFinalize: resp.FromFinalize,
	}, true
}
