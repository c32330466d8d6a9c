package whatsapp

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

// Sender is the outbound surface the webhook handler depends on.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendAudio(ctx context.Context, to string, audio []byte, fallbackText string) error
	SendImage(ctx context.Context, to string, image []byte, caption string) error
}

// Client talks to the WhatsApp Business Cloud API (Graph API).
type Client struct {
	token         string
	phoneNumberID string
	graphBaseURL  string
	apiVersion    string
	httpClient    *http.Client
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.WhatsAppConfig) *Client {
	return &Client{
		token:         cfg.Token,
		phoneNumberID: cfg.PhoneNumberID,
		graphBaseURL:  cfg.GraphBaseURL,
		apiVersion:    cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", c.graphBaseURL, c.apiVersion, c.phoneNumberID)
}

func (c *Client) mediaURL() string {
	return fmt.Sprintf("%s/%s/%s/media", c.graphBaseURL, c.apiVersion, c.phoneNumberID)
}

func (c *Client) postMessage(ctx context.Context, payload map[string]interface{}) error {
	payload["messaging_product"] = "whatsapp"

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("message request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("message send failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	err := c.postMessage(ctx, map[string]interface{}{
		"to":   to,
		"type": "text",
		"text": map[string]string{"body": text},
	})
	if err != nil {
		return err
	}
	logging.Get(logging.CategoryWhatsApp).Info("Sent text to %s (%d chars)", to, len(text))
	return nil
}

// SendAudio uploads the audio and sends it as a voice message. When the
// upload fails it degrades to sending fallbackText instead, so the user
// still gets an answer.
func (c *Client) SendAudio(ctx context.Context, to string, audio []byte, fallbackText string) error {
	mediaID, err := c.UploadMedia(ctx, audio, "audio/mpeg")
	if err != nil {
		logging.Get(logging.CategoryWhatsApp).Warn("Audio upload failed, falling back to text: %v", err)
		return c.SendText(ctx, to, fallbackText)
	}

	err = c.postMessage(ctx, map[string]interface{}{
		"to":    to,
		"type":  "audio",
		"audio": map[string]string{"id": mediaID},
	})
	if err != nil {
		logging.Get(logging.CategoryWhatsApp).Warn("Audio send failed, falling back to text: %v", err)
		return c.SendText(ctx, to, fallbackText)
	}
	logging.Get(logging.CategoryWhatsApp).Info("Sent audio to %s (%d bytes)", to, len(audio))
	return nil
}

// SendImage uploads the image and sends it with an optional caption.
func (c *Client) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	mediaID, err := c.UploadMedia(ctx, image, "image/png")
	if err != nil {
		return fmt.Errorf("image upload failed: %w", err)
	}

	img := map[string]string{"id": mediaID}
	if caption != "" {
		img["caption"] = caption
	}
	if err := c.postMessage(ctx, map[string]interface{}{
		"to":    to,
		"type":  "image",
		"image": img,
	}); err != nil {
		return err
	}
	logging.Get(logging.CategoryWhatsApp).Info("Sent image to %s (%d bytes)", to, len(image))
	return nil
}

// UploadMedia uploads binary content and returns the media ID to reference
// in a subsequent message.
func (c *Client) UploadMedia(ctx context.Context, content []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.WriteField("type", mimeType); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	part, err := writer.CreateFormFile("file", "media")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("failed to write media payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.mediaURL(), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload response missing media ID")
	}
	return result.ID, nil
}

// DownloadMedia fetches user-uploaded media. The Graph API resolves the
// media ID to a short-lived URL first, then the binary is fetched from it.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryWhatsApp, "DownloadMedia")
	defer timer.StopWithThreshold(10 * time.Second)

	metaURL := fmt.Sprintf("%s/%s/%s", c.graphBaseURL, c.apiVersion, mediaID)
	req, err := http.NewRequestWithContext(ctx, "GET", metaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	metaBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata lookup failed with status %d: %s", resp.StatusCode, string(metaBody))
	}

	var meta struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media metadata missing download URL")
	}

	dlReq, err := http.NewRequestWithContext(ctx, "GET", meta.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+c.token)

	dlResp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer dlResp.Body.Close()

	if dlResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", dlResp.StatusCode)
	}

	content, err := io.ReadAll(dlResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media content: %w", err)
	}

	logging.Get(logging.CategoryWhatsApp).Debug("Downloaded media %s (%d bytes)", mediaID, len(content))
	return content, nil
}
