package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"companion/internal/config"
)

func testConfig(baseURL string) config.WhatsAppConfig {
	return config.WhatsAppConfig{
		Token:         "wa-token",
		PhoneNumberID: "1555000",
		GraphBaseURL:  baseURL,
		APIVersion:    "v21.0",
	}
}

func TestSendText(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/1555000/messages", r.URL.Path)
		assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	require.NoError(t, c.SendText(context.Background(), "5215512345678", "hola"))

	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
	assert.Equal(t, "text", gotBody["type"])
	assert.Equal(t, map[string]interface{}{"body": "hola"}, gotBody["text"])
}

func TestSendAudioUploadsThenReferences(t *testing.T) {
	var uploaded []byte
	var messageBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/1555000/media":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "whatsapp", r.FormValue("messaging_product"))
			file, _, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			buf := make([]byte, 64)
			n, _ := file.Read(buf)
			uploaded = buf[:n]
			w.Write([]byte(`{"id":"media-99"}`))
		case "/v21.0/1555000/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&messageBody))
			w.Write([]byte(`{"messages":[{"id":"wamid.2"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	require.NoError(t, c.SendAudio(context.Background(), "521", []byte("MP3"), "fallback"))

	assert.Equal(t, []byte("MP3"), uploaded)
	assert.Equal(t, "audio", messageBody["type"])
	assert.Equal(t, map[string]interface{}{"id": "media-99"}, messageBody["audio"])
}

func TestSendAudioFallsBackToText(t *testing.T) {
	var messageBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/1555000/media":
			http.Error(w, "upload rejected", http.StatusBadRequest)
		case "/v21.0/1555000/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&messageBody))
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	require.NoError(t, c.SendAudio(context.Background(), "521", []byte("MP3"), "spoken reply as text"))

	assert.Equal(t, "text", messageBody["type"])
	assert.Equal(t, map[string]interface{}{"body": "spoken reply as text"}, messageBody["text"])
}

func TestSendImageWithCaption(t *testing.T) {
	var messageBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/1555000/media":
			w.Write([]byte(`{"id":"img-7"}`))
		case "/v21.0/1555000/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&messageBody))
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	require.NoError(t, c.SendImage(context.Background(), "521", []byte("PNG"), "the floor plan"))

	img, ok := messageBody["image"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "img-7", img["id"])
	assert.Equal(t, "the floor plan", img["caption"])
}

func TestDownloadMediaTwoStep(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/media-42":
			assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
			fmt.Fprintf(w, `{"url":"%s/cdn/blob","mime_type":"audio/ogg"}`, srvURL)
		case "/cdn/blob":
			assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
			w.Write([]byte("VOICE-NOTE"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(testConfig(srv.URL))
	content, err := c.DownloadMedia(context.Background(), "media-42")
	require.NoError(t, err)
	assert.Equal(t, []byte("VOICE-NOTE"), content)
}

func TestDownloadMediaMissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.DownloadMedia(context.Background(), "media-1")
	require.Error(t, err)
}

func TestWebhookPayloadHelpers(t *testing.T) {
	raw := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "acct",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"contacts": [{"wa_id": "5215512345678", "profile": {"name": "Dan"}}],
					"messages": [{
						"id": "wamid.x",
						"from": "5215512345678",
						"type": "text",
						"text": {"body": "hola Ava"}
					}]
				}
			}]
		}]
	}`

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	msg := payload.FirstMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "hola Ava", msg.Text.Body)
	assert.False(t, payload.HasStatuses())

	statusRaw := `{
		"entry": [{"changes": [{"value": {"statuses": [{"id": "wamid.x", "status": "delivered"}]}}]}]
	}`
	var statusPayload WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(statusRaw), &statusPayload))
	assert.True(t, statusPayload.HasStatuses())
	assert.Nil(t, statusPayload.FirstMessage())
}
