package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"companion/internal/config"
	"companion/internal/graph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type fakePipeline struct {
	result *graph.Result
	err    error
	thread string
	input  string
}

func (f *fakePipeline) Run(ctx context.Context, threadID, input string) (*graph.Result, error) {
	f.thread = threadID
	f.input = input
	return f.result, f.err
}

type fakeSender struct {
	textTo   string
	textBody string
	audioTo  string
	audio    []byte
	err      error
}

func (f *fakeSender) SendText(ctx context.Context, to, text string) error {
	f.textTo, f.textBody = to, text
	return f.err
}

func (f *fakeSender) SendAudio(ctx context.Context, to string, audio []byte, fallbackText string) error {
	f.audioTo, f.audio = to, audio
	return f.err
}

func (f *fakeSender) SendImage(ctx context.Context, to string, image []byte, caption string) error {
	return f.err
}

type fakeDownloader struct {
	content []byte
	err     error
}

func (f *fakeDownloader) DownloadMedia(ctx context.Context, mediaID string) ([]byte, error) {
	return f.content, f.err
}

type fakeTranscriber struct{ text string }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f.text, nil
}

type fakeDescriber struct {
	text string
	err  error
}

func (f *fakeDescriber) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	return f.text, f.err
}

type fakeDispatcher struct {
	done   chan struct{}
	to     string
	kind   string
	params map[string]interface{}
}

func (f *fakeDispatcher) SendProjectCard(ctx context.Context, to string, projectID interface{}) error {
	f.to, f.kind = to, "project"
	f.params = map[string]interface{}{"project_id": projectID}
	close(f.done)
	return nil
}

func (f *fakeDispatcher) SendUnitCard(ctx context.Context, to string, unitID interface{}) error {
	f.to, f.kind = to, "unit"
	f.params = map[string]interface{}{"unit_id": unitID}
	close(f.done)
	return nil
}

func (f *fakeDispatcher) DispatchInfoPoint(ctx context.Context, to, infoPointType string, params map[string]interface{}) error {
	f.to, f.kind, f.params = to, infoPointType, params
	close(f.done)
	return nil
}

type fakeNotifier struct{ alerts []string }

func (f *fakeNotifier) Alert(message string) error {
	f.alerts = append(f.alerts, message)
	return nil
}

func newTestServer(deps Deps) *Server {
	cfg := config.DefaultConfig()
	cfg.WhatsApp.VerifyToken = "verify-me"
	return New(zap.NewNop(), cfg, deps)
}

func textWebhookBody(from, text string) string {
	return fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"value": {"messages": [{
			"id": "wamid.1", "from": "%s", "type": "text", "text": {"body": "%s"}
		}]}}]}]
	}`, from, text)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(Deps{})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "companion", body["service"])
}

func TestVerifyHandshake(t *testing.T) {
	s := newTestServer(Deps{})

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET",
		"/whatsapp_response?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest("GET",
		"/whatsapp_response?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookTextMessage(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "hola!"}}
	sender := &fakeSender{}
	s := newTestServer(Deps{Pipeline: pipeline, Sender: sender})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response",
		strings.NewReader(textWebhookBody("5215512345678", "hola Ava")))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5215512345678", pipeline.thread)
	assert.Equal(t, "hola Ava", pipeline.input)
	assert.Equal(t, "5215512345678", sender.textTo)
	assert.Equal(t, "hola!", sender.textBody)
}

func TestWebhookStatusUpdateAcknowledged(t *testing.T) {
	pipeline := &fakePipeline{}
	s := newTestServer(Deps{Pipeline: pipeline})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{
		"entry": [{"changes": [{"value": {"statuses": [{"id": "wamid.1", "status": "read"}]}}]}]
	}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, pipeline.input, "status events must not run the pipeline")
}

func TestWebhookUnknownEventRejected(t *testing.T) {
	s := newTestServer(Deps{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{"entry": []}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAudioMessageTranscribed(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "reply"}}
	s := newTestServer(Deps{
		Pipeline:    pipeline,
		Sender:      &fakeSender{},
		Downloader:  &fakeDownloader{content: []byte("OGG")},
		Transcriber: &fakeTranscriber{text: "busco un depa de dos recamaras"},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{
		"entry": [{"changes": [{"value": {"messages": [{
			"id": "wamid.2", "from": "521", "type": "audio", "audio": {"id": "media-1", "mime_type": "audio/ogg"}
		}]}}]}]
	}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "busco un depa de dos recamaras", pipeline.input)
}

func TestWebhookImageMessageDescribed(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "reply"}}
	s := newTestServer(Deps{
		Pipeline:   pipeline,
		Sender:     &fakeSender{},
		Downloader: &fakeDownloader{content: []byte("JPG")},
		Describer:  &fakeDescriber{text: "a two bedroom floor plan"},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{
		"entry": [{"changes": [{"value": {"messages": [{
			"id": "wamid.3", "from": "521", "type": "image",
			"image": {"id": "media-2", "mime_type": "image/jpeg", "caption": "is this good?"}
		}]}}]}]
	}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, pipeline.input, "is this good?")
	assert.Contains(t, pipeline.input, "a two bedroom floor plan")
}

func TestWebhookImageDescriptionFailureKeepsCaption(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "reply"}}
	s := newTestServer(Deps{
		Pipeline:   pipeline,
		Sender:     &fakeSender{},
		Downloader: &fakeDownloader{content: []byte("JPG")},
		Describer:  &fakeDescriber{err: errors.New("vision overloaded")},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{
		"entry": [{"changes": [{"value": {"messages": [{
			"id": "wamid.4", "from": "521", "type": "image",
			"image": {"id": "media-3", "mime_type": "image/jpeg", "caption": "is this good?"}
		}]}}]}]
	}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "is this good?", pipeline.input)
}

func TestWebhookImageDescriptionFailureWithoutCaption(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "reply"}}
	s := newTestServer(Deps{
		Pipeline:   pipeline,
		Sender:     &fakeSender{},
		Downloader: &fakeDownloader{content: []byte("JPG")},
		Describer:  &fakeDescriber{err: errors.New("vision overloaded")},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response", strings.NewReader(`{
		"entry": [{"changes": [{"value": {"messages": [{
			"id": "wamid.5", "from": "521", "type": "image",
			"image": {"id": "media-3", "mime_type": "image/jpeg"}
		}]}}]}]
	}`))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[Image]", pipeline.input)
}

func TestWebhookAudioReplyDelivery(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{
		Workflow: graph.WorkflowAudio, Text: "spoken", Audio: []byte("MP3"),
	}}
	sender := &fakeSender{}
	s := newTestServer(Deps{Pipeline: pipeline, Sender: sender})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response",
		strings.NewReader(textWebhookBody("521", "send me an audio")))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("MP3"), sender.audio)
	assert.Empty(t, sender.textBody)
}

func TestWebhookInfoPointRespondsImmediately(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{
		Workflow:        graph.WorkflowInfoPoint,
		InfoPointType:   "project",
		InfoPointParams: map[string]interface{}{"project_id": float64(42)},
	}}
	dispatcher := &fakeDispatcher{done: make(chan struct{})}
	s := newTestServer(Deps{Pipeline: pipeline, Sender: &fakeSender{}, Dispatcher: dispatcher})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response",
		strings.NewReader(textWebhookBody("521", "send me the Marina Heights card")))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("info point dispatch never happened")
	}
	assert.Equal(t, "521", dispatcher.to)
	assert.Equal(t, "project", dispatcher.kind)
	assert.Equal(t, float64(42), dispatcher.params["project_id"])
}

func TestWebhookPipelineFailureAlerts(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("model down")}
	notifier := &fakeNotifier{}
	s := newTestServer(Deps{Pipeline: pipeline, Sender: &fakeSender{}, Notifier: notifier})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response",
		strings.NewReader(textWebhookBody("521", "hola")))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, notifier.alerts, 1)
	assert.Contains(t, notifier.alerts[0], "pipeline failed")
}

func TestWebhookDeliveryFailure(t *testing.T) {
	pipeline := &fakePipeline{result: &graph.Result{Workflow: graph.WorkflowConversation, Text: "hola"}}
	sender := &fakeSender{err: errors.New("cloud api 500")}
	s := newTestServer(Deps{Pipeline: pipeline, Sender: sender})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/whatsapp_response",
		strings.NewReader(textWebhookBody("521", "hola")))
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
