package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsClient requests raw PCM from the ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		BaseURL:    "https://api.elevenlabs.io",
	}
}

// GeneratePCM synthesises text with the given profile and returns raw PCM
// bytes (signed 16-bit LE mono at the rate encoded in outputFormat).
func (e *ElevenLabsClient) GeneratePCM(ctx context.Context, text string, profile VoiceProfile, outputFormat string) ([]byte, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: api key missing")
	}

	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/v1/text-to-speech/" + profile.VoiceID
	q := u.Query()
	q.Set("output_format", outputFormat)
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": profile.ModelID,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         profile.Settings.Stability,
			"similarity_boost":  profile.Settings.SimilarityBoost,
			"style":             profile.Settings.Style,
			"use_speaker_boost": profile.Settings.UseSpeakerBoost,
			"speed":             profile.Settings.Speed,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs status=%d body=%s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}
