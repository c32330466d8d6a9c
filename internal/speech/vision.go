package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"companion/internal/config"
	"companion/internal/logging"
)

// VisionClient describes images through an OpenAI-compatible chat endpoint
// with a vision-capable model.
type VisionClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewVisionClient builds a VisionClient. It shares the Whisper credentials
// since both ride the same provider.
func NewVisionClient(cfg config.SpeechConfig) *VisionClient {
	return &VisionClient{
		apiKey:  cfg.WhisperAPIKey,
		model:   cfg.VisionModel,
		baseURL: cfg.WhisperBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type visionContentPart struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	ImageURL *visionImagePart `json:"image_url,omitempty"`
}

type visionImagePart struct {
	URL string `json:"url"`
}

type visionMessage struct {
	Role    string              `json:"role"`
	Content []visionContentPart `json:"content"`
}

type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Describe sends the image inline as a base64 data URL and returns the
// model's description.
func (c *VisionClient) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("vision API key not configured")
	}
	if prompt == "" {
		prompt = "Describe what you see in this image in detail."
	}

	timer := logging.StartTimer(logging.CategorySpeech, "Describe")
	defer timer.StopWithThreshold(15 * time.Second)

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	body, err := json.Marshal(visionRequest{
		Model: c.model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []visionContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &visionImagePart{URL: dataURL}},
				},
			},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result visionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("vision response contained no choices")
	}

	logging.Get(logging.CategorySpeech).Debug("Described %d image bytes", len(image))
	return result.Choices[0].Message.Content, nil
}
