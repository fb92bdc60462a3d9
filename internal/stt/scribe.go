// Package stt transcribes uploaded clips via the ElevenLabs Scribe API and
// stores per-upload artifacts under artifacts/stt/sessions/<ssid>/.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const (
	scribeEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	scribeModelID  = "scribe_v1"
)

// ScribeError carries the upstream status for the handler to map to 502.
type ScribeError struct {
	StatusCode int
	Message    string
}

func (e *ScribeError) Error() string {
	return fmt.Sprintf("scribe api error %d: %s", e.StatusCode, e.Message)
}

// WordTiming is word-level timing from Scribe.
type WordTiming struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Type  string  `json:"type"` // "word" | "spacing" | "audio_event"
}

// Transcription is the Scribe response subset this service uses.
type Transcription struct {
	Text            string          `json:"text"`
	LanguageCode    string          `json:"language_code"`
	TranscriptionID string          `json:"transcription_id"`
	Words           []WordTiming    `json:"words"`
	Raw             json.RawMessage `json:"-"`
}

// ScribeClient calls the ElevenLabs speech-to-text endpoint.
type ScribeClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

func NewScribeClient(apiKey string) *ScribeClient {
	return &ScribeClient{
		HTTPClient: &http.Client{},
		APIKey:     apiKey,
		BaseURL:    scribeEndpoint,
	}
}

// Transcribe uploads audio bytes and returns the parsed transcription along
// with the raw response for archival.
func (c *ScribeClient) Transcribe(ctx context.Context, filename string, audio []byte) (*Transcription, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("scribe: api key missing")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.WriteField("model_id", scribeModelID); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scribe request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &ScribeError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var tr Transcription
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("scribe decode: %w", err)
	}
	tr.Raw = raw
	return &tr, nil
}
