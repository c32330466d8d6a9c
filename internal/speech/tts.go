package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"companion/internal/config"
	"companion/internal/logging"
)

// ElevenLabsClient synthesizes speech through the ElevenLabs API.
type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	baseURL    string
	httpClient *http.Client
}

// NewElevenLabsClient builds an ElevenLabsClient from configuration.
func NewElevenLabsClient(cfg config.SpeechConfig) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:  cfg.ElevenLabsAPIKey,
		voiceID: cfg.ElevenLabsVoiceID,
		baseURL: cfg.ElevenLabsBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize renders the text as MP3 bytes.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs API key not configured")
	}
	if c.voiceID == "" {
		return nil, fmt.Errorf("elevenlabs voice ID not configured")
	}

	timer := logging.StartTimer(logging.CategorySpeech, "Synthesize")
	defer timer.StopWithThreshold(15 * time.Second)

	body, err := json.Marshal(ttsRequest{
		Text:    text,
		ModelID: "eleven_flash_v2_5",
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis failed with status %d: %s", resp.StatusCode, string(audio))
	}

	logging.Get(logging.CategorySpeech).Debug("Synthesized %d chars to %d audio bytes",
		len(text), len(audio))
	return audio, nil
}
