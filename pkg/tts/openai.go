package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-sentry/internal/httpc"
)

const (
	openAISpeechURL = "https://api.openai.com/v1/audio/speech"

	// openAIPCMRate is the rate of the "pcm" response format.
	openAIPCMRate = 24000

	maxErrorBody = 64 << 10
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI speaks through the OpenAI speech endpoint, asking for raw 24kHz
// mono PCM16 so no decoder is needed.
type OpenAI struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceOnyx
	cfg.BaseURL = openAISpeechURL
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, fail(ProviderOpenAI, ErrNoAPIKey)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}
	return &OpenAI{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "tts", "provider", ProviderOpenAI),
	}, nil
}

type speechRequest struct {
	Model  string `json:"model"`
	Voice  string `json:"voice"`
	Input  string `json:"input"`
	Format string `json:"response_format"`
}

// Synthesize implements Provider.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fail(ProviderOpenAI, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(speechRequest{
		Model:  o.config.ModelID,
		Voice:  o.config.VoiceID,
		Input:  text,
		Format: "pcm",
	})
	if err != nil {
		return nil, fail(ProviderOpenAI, fmt.Errorf("encode request: %w", err))
	}

	var audio []byte
	err = o.retry(ctx, func() error {
		audio, err = o.post(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	format := AudioFormat{SampleRate: openAIPCMRate, Channels: 1}
	res := &AudioResult{
		Audio:     audio,
		Format:    format,
		Duration:  DurationOf(len(audio), format),
		CharCount: len(text),
		Latency:   time.Since(start),
	}
	o.logger.Debug("synthesized", "chars", res.CharCount, "audio", res.Duration, "latency", res.Latency)
	return res, nil
}

// post sends one speech request and returns the PCM body.
func (o *OpenAI) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fail(ProviderOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fail(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(ProviderOpenAI, fmt.Errorf("read audio: %w", err))
	}
	return audio, nil
}

// retry runs call until it succeeds, fails permanently or runs out of
// attempts. Waits double after each temporary failure.
func (o *OpenAI) retry(ctx context.Context, call func() error) error {
	delay := o.config.RetryDelay
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		var e *Error
		if attempt >= o.config.MaxRetries || ctx.Err() != nil || !errors.As(err, &e) || !e.Temporary() {
			return err
		}
		o.logger.Warn("speech request failed, retrying", "attempt", attempt+1, "status", e.Status, "wait", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(ProviderOpenAI, ctx.Err())
		case <-t.C:
		}
		delay *= 2
	}
}

// Health lists models to check the key.
func (o *OpenAI) Health(ctx context.Context) error {
	url := strings.TrimSuffix(o.config.BaseURL, "/audio/speech") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(ProviderOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return fail(ProviderOpenAI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

// Close releases idle connections.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// apiError decodes an OpenAI error body, falling back to the raw text.
func apiError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{Provider: ProviderOpenAI, Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		e.Message, e.Code = body.Error.Message, body.Error.Code
	}
	return e
}
