// Package server exposes the webhook HTTP surface: the Meta verification
// handshake, the message webhook and a health endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"companion/internal/config"
	"companion/internal/graph"
	"companion/internal/whatsapp"
)

// Transcriber converts inbound voice notes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Describer extracts a caption-ready description from an inbound image.
type Describer interface {
	Describe(ctx context.Context, image []byte, prompt string) (string, error)
}

// MediaDownloader fetches user-uploaded media from the Cloud API.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// InfoPointDispatcher delivers project/unit detail cards out-of-band.
type InfoPointDispatcher interface {
	SendProjectCard(ctx context.Context, to string, projectID interface{}) error
	SendUnitCard(ctx context.Context, to string, unitID interface{}) error
	DispatchInfoPoint(ctx context.Context, to, infoPointType string, params map[string]interface{}) error
}

// Notifier alerts an operator when a reply cannot be delivered.
type Notifier interface {
	Alert(message string) error
}

// Runner executes one conversation turn.
type Runner interface {
	Run(ctx context.Context, threadID, input string) (*graph.Result, error)
}

// Server hosts the webhook endpoints.
type Server struct {
	log         *zap.Logger
	cfg         config.ServerConfig
	verifyToken string
	version     string

	pipeline    Runner
	sender      whatsapp.Sender
	downloader  MediaDownloader
	transcriber Transcriber
	describer   Describer
	dispatcher  InfoPointDispatcher
	notifier    Notifier

	httpServer *http.Server
}

// Deps collects the collaborators the server needs.
type Deps struct {
	Pipeline    Runner
	Sender      whatsapp.Sender
	Downloader  MediaDownloader
	Transcriber Transcriber
	Describer   Describer
	Dispatcher  InfoPointDispatcher
	Notifier    Notifier
}

// New builds the server and its routes.
func New(log *zap.Logger, cfg *config.Config, deps Deps) *Server {
	s := &Server{
		log:         log,
		cfg:         cfg.Server,
		verifyToken: cfg.WhatsApp.VerifyToken,
		version:     cfg.Version,
		pipeline:    deps.Pipeline,
		sender:      deps.Sender,
		downloader:  deps.Downloader,
		transcriber: deps.Transcriber,
		describer:   deps.Describer,
		dispatcher:  deps.Dispatcher,
		notifier:    deps.Notifier,
	}

	readTimeout, writeTimeout := cfg.GetServerTimeouts()
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.LoggingHandler(os.Stdout, s.Routes()),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Routes builds the router. Exposed separately for tests.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.handleHealth).Methods("GET")
	router.HandleFunc("/whatsapp_response", s.handleVerify).Methods("GET")
	router.HandleFunc("/whatsapp_response", s.handleWebhook).Methods("POST")
	router.Use(s.requestIDMiddleware)
	return router
}

// ListenAndServe runs the HTTP server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("webhook server listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "companion",
		"version": s.version,
	})
}

// handleVerify answers Meta's webhook verification handshake: echo the
// challenge when the verify token matches.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == s.verifyToken && challenge != "" {
		w.Write([]byte(challenge))
		return
	}

	s.log.Warn("webhook verification rejected", zap.String("mode", mode))
	http.Error(w, "verification failed", http.StatusForbidden)
}
