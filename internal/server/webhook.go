package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"companion/internal/graph"
	"companion/internal/logging"
	"companion/internal/whatsapp"
)

// handleWebhook processes one inbound WhatsApp event. Status updates are
// acknowledged without work; user messages run the conversation pipeline.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if payload.HasStatuses() {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg := payload.FirstMessage()
	if msg == nil {
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return
	}

	logging.Webhook("Inbound %s message from %s", msg.Type, msg.From)

	input, err := s.resolveContent(r.Context(), msg)
	if err != nil {
		s.log.Error("failed to resolve message content",
			zap.String("type", msg.Type), zap.Error(err))
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}
	if input == "" {
		http.Error(w, "unsupported message type", http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.Run(r.Context(), msg.From, input)
	if err != nil {
		s.log.Error("pipeline failed", zap.String("thread", msg.From), zap.Error(err))
		s.alert(fmt.Sprintf("companion: pipeline failed for %s: %v", msg.From, err))
		http.Error(w, "failed to generate response", http.StatusInternalServerError)
		return
	}

	if result.Workflow == graph.WorkflowInfoPoint {
		// The card is delivered by the backend; acknowledge immediately and
		// dispatch in the background.
		go s.dispatchInfoPoint(msg.From, result)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.deliver(r.Context(), msg.From, result); err != nil {
		s.log.Error("delivery failed", zap.String("to", msg.From), zap.Error(err))
		s.alert(fmt.Sprintf("companion: delivery failed for %s: %v", msg.From, err))
		http.Error(w, "failed to send response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// resolveContent turns the inbound message into pipeline input text:
// transcribing voice notes and describing images.
func (s *Server) resolveContent(ctx context.Context, msg *whatsapp.Message) (string, error) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return "", nil
		}
		return msg.Text.Body, nil

	case "audio":
		if msg.Audio == nil || s.downloader == nil || s.transcriber == nil {
			return "", nil
		}
		audio, err := s.downloader.DownloadMedia(ctx, msg.Audio.ID)
		if err != nil {
			return "", fmt.Errorf("audio download failed: %w", err)
		}
		text, err := s.transcriber.Transcribe(ctx, audio)
		if err != nil {
			return "", fmt.Errorf("transcription failed: %w", err)
		}
		return text, nil

	case "image":
		if msg.Image == nil || s.downloader == nil || s.describer == nil {
			return "", nil
		}
		image, err := s.downloader.DownloadMedia(ctx, msg.Image.ID)
		if err != nil {
			return "", fmt.Errorf("image download failed: %w", err)
		}
		description, err := s.describer.Describe(ctx, image, "")
		if err != nil {
			// A flaky vision provider must not drop the message; continue
			// with the caption alone.
			s.log.Warn("image description failed, continuing with caption", zap.Error(err))
			if msg.Image.Caption != "" {
				return msg.Image.Caption, nil
			}
			return "[Image]", nil
		}
		input := "[Image] " + description
		if msg.Image.Caption != "" {
			input = msg.Image.Caption + "\n\n" + input
		}
		return input, nil
	}

	return "", nil
}

// deliver sends the reply over WhatsApp, as audio when the pipeline
// produced a voice note.
func (s *Server) deliver(ctx context.Context, to string, result *graph.Result) error {
	if result.Workflow == graph.WorkflowAudio && len(result.Audio) > 0 {
		return s.sender.SendAudio(ctx, to, result.Audio, result.Text)
	}
	return s.sender.SendText(ctx, to, result.Text)
}

func (s *Server) dispatchInfoPoint(to string, result *graph.Result) {
	if s.dispatcher == nil {
		s.log.Warn("info point requested but dispatcher not configured")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch result.InfoPointType {
	case "project":
		err = s.dispatcher.SendProjectCard(ctx, to, result.InfoPointParams["project_id"])
	case "unit":
		err = s.dispatcher.SendUnitCard(ctx, to, result.InfoPointParams["unit_id"])
	default:
		err = s.dispatcher.DispatchInfoPoint(ctx, to, result.InfoPointType, result.InfoPointParams)
	}
	if err != nil {
		s.log.Error("info point dispatch failed", zap.String("to", to), zap.Error(err))
		s.alert(fmt.Sprintf("companion: info point dispatch failed for %s: %v", to, err))
	}
}

func (s *Server) alert(message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Alert(message); err != nil {
		s.log.Warn("operator alert failed", zap.Error(err))
	}
}
