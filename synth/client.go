// Package synth converts shot narration into timed audio clips via the
// ElevenLabs text-to-speech API, rotating across a ring of API keys to
// survive per-key rate limits.
package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"shorts-engine/types"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// SynthesisError is a provider-side synthesis failure. Transient causes are
// retried via key rotation before one of these surfaces.
type SynthesisError struct {
	Shot  int
	Cause error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for shot %d: %v", e.Shot, e.Cause)
}

func (e *SynthesisError) Unwrap() error { return e.Cause }

// Alignment holds the provider's character-level timing for one clip. The
// effects stage derives caption timing from it.
type Alignment struct {
	Characters    []string  `json:"characters"`
	CharStartSecs []float64 `json:"character_start_times_seconds"`
	CharEndSecs   []float64 `json:"character_end_times_seconds"`
}

// Consistent reports whether the three arrays describe the same characters.
func (a *Alignment) Consistent() bool {
	return len(a.Characters) == len(a.CharStartSecs) && len(a.Characters) == len(a.CharEndSecs)
}

// Result is one synthesized clip before it is written to disk.
type Result struct {
	Audio     []byte
	Alignment *Alignment
}

// Client calls the ElevenLabs with-timestamps endpoint. Each request walks
// the key ring starting from the key after the last failure; a key that just
// rate-limited is never retried immediately, the rotation itself is the
// backoff. One Client is shared by the parallel shot workers, so the ring
// cursor is mutex-guarded.
type Client struct {
	baseURL      string
	keys         []string
	httpClient   *http.Client
	outputFormat string

	mu   sync.Mutex
	next int // index of the key to try first
}

// NewClient builds a Client over the given key ring.
func NewClient(keys []string, outputFormat string) (*Client, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no ElevenLabs API keys configured")
	}
	return &Client{
		baseURL:      defaultBaseURL,
		keys:         keys,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		outputFormat: outputFormat,
	}, nil
}

type convertRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	PreviousText  string         `json:"previous_text,omitempty"`
	NextText      string         `json:"next_text,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed,omitempty"`
}

type convertResponse struct {
	AudioBase64 string     `json:"audio_base64"`
	Alignment   *Alignment `json:"alignment"`
}

// Convert synthesizes one narration. prev and next give the provider
// cross-shot prosody context.
func (c *Client) Convert(ctx context.Context, voice types.VoiceSettings, text, prev, next string) (*Result, error) {
	if text == "" {
		return nil, fmt.Errorf("empty narration text")
	}
	body, err := json.Marshal(convertRequest{
		Text:    text,
		ModelID: voice.ModelID,
		VoiceSettings: &voiceSettings{
			Stability:       voice.Stability,
			SimilarityBoost: voice.Similarity,
			Style:           voice.Style,
			Speed:           voice.Speed,
		},
		PreviousText: prev,
		NextText:     next,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < len(c.keys); attempt++ {
		key := c.nextKey()

		res, err := c.convertOnce(ctx, key, voice.VoiceID, body)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Warn().Err(err).Str("key_suffix", keySuffix(key)).
			Msg("TTS call failed, rotating to next key")
	}
	return nil, fmt.Errorf("all %d API keys exhausted: %w", len(c.keys), lastErr)
}

// nextKey advances the shared ring cursor by one and returns the key it
// passed over.
func (c *Client) nextKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.keys[c.next]
	c.next = (c.next + 1) % len(c.keys)
	return key
}

func (c *Client) convertOnce(ctx context.Context, key, voiceID string, body []byte) (*Result, error) {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s",
		c.baseURL, voiceID, c.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var cr convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if cr.Alignment != nil && !cr.Alignment.Consistent() {
		log.Warn().Int("characters", len(cr.Alignment.Characters)).
			Int("starts", len(cr.Alignment.CharStartSecs)).
			Int("ends", len(cr.Alignment.CharEndSecs)).
			Msg("provider alignment arrays disagree, dropping alignment")
		cr.Alignment = nil
	}
	audio, err := base64.StdEncoding.DecodeString(cr.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("provider returned empty audio")
	}
	return &Result{Audio: audio, Alignment: cr.Alignment}, nil
}

func keySuffix(key string) string {
	if len(key) <= 4 {
		return key
	}
	return "..." + key[len(key)-4:]
}
