// Package speech wraps the hosted audio and vision endpoints: Whisper
// transcription, ElevenLabs synthesis and image description.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"companion/internal/config"
	"companion/internal/logging"
)

// WhisperClient transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewWhisperClient builds a WhisperClient from configuration.
func NewWhisperClient(cfg config.SpeechConfig) *WhisperClient {
	return &WhisperClient{
		apiKey:  cfg.WhisperAPIKey,
		model:   cfg.WhisperModel,
		baseURL: cfg.WhisperBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Transcribe uploads the audio bytes and returns the recognized text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("whisper API key not configured")
	}

	timer := logging.StartTimer(logging.CategorySpeech, "Transcribe")
	defer timer.StopWithThreshold(10 * time.Second)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.ogg")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse transcription: %w", err)
	}

	logging.Get(logging.CategorySpeech).Debug("Transcribed %d audio bytes to %d chars",
		len(audio), len(result.Text))
	return result.Text, nil
}
