package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/asaficontact/reflective-resonance/internal/agents"
	"github.com/asaficontact/reflective-resonance/internal/stt"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

// minUploadBytes rejects uploads too small to hold any speech.
const minUploadBytes = 512

var allowedAudioExts = map[string]string{
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
}

// ChatRequest is the POST /v1/chat body.
type ChatRequest struct {
	Message string                    `json:"message"`
	Slots   []workflow.SlotAssignment `json:"slots"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) agents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"agents": agents.All})
}

func (s *Server) reset(c echo.Context) error {
	cleared := s.deps.Conversations.ResetAll()
	log.Printf("reset: cleared conversations for slots %v", cleared)
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "clearedSlots": cleared})
}

// chat validates the request, starts the workflow, and streams its events as
// SSE until the terminal done event.
func (s *Server) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if len(req.Slots) < 1 || len(req.Slots) > 6 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "slots must have 1-6 entries"})
	}
	seen := make(map[int]bool, len(req.Slots))
	for _, slot := range req.Slots {
		if slot.SlotID < 1 || slot.SlotID > 6 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid slotId %d", slot.SlotID)})
		}
		if seen[slot.SlotID] {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("duplicate slotId %d", slot.SlotID)})
		}
		seen[slot.SlotID] = true
		if !agents.Valid(agents.ID(slot.AgentID)) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown agentId %q", slot.AgentID)})
		}
	}

	ctx := c.Request().Context()
	stream, sessionID, err := s.deps.Chat.Run(ctx, req.Message, req.Slots)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	log.Printf("chat: session %s streaming, slots=%d", sessionID, len(req.Slots))

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			// Client gone: stop draining; outstanding LLM calls share ctx and
			// get cancelled, TTS and wave work finish detached.
			stream.Abort()
			log.Printf("chat: session %s client disconnected", sessionID)
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if err := writeSSE(resp, ev); err != nil {
				stream.Abort()
				return nil
			}
		}
	}
}

func writeSSE(w *echo.Response, ev workflow.Event) error {
	data, err := ev.MarshalData()
	if err != nil {
		log.Printf("chat: marshal %s failed: %v", ev.Name, err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// sttUpload accepts a multipart clip, transcribes it via the provider, and
// stores the artifacts.
func (s *Server) sttUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
	}
	if fileHeader.Size > s.cfg.STTMaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "audio file too large"})
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileHeader.Filename)), ".")
	mimeType, ok := allowedAudioExts[ext]
	if !ok {
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": fmt.Sprintf("unsupported audio format %q", ext)})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read upload"})
	}
	audio, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read upload"})
	}
	if len(audio) < minUploadBytes {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "audio clip too short"})
	}

	sess, err := s.deps.STTSessions.Begin()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}
	audioRel, err := sess.SaveInput(audio, ext)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to store audio"})
	}

	tr, err := s.deps.Transcriber.Transcribe(c.Request().Context(), fileHeader.Filename, audio)
	if err != nil {
		var se *stt.ScribeError
		if errors.As(err, &se) {
			log.Printf("stt: upstream error %d: %.120s", se.StatusCode, se.Message)
		} else {
			log.Printf("stt: transcription failed: %v", err)
		}
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "transcription provider failure"})
	}

	transcriptRel, err := sess.SaveTranscript(tr.Raw, tr.Text)
	if err != nil {
		log.Printf("stt: transcript write failed: %v", err)
	}
	durationMs := transcriptDurationMs(tr)
	if err := sess.SaveMetadata(mimeType, durationMs, len(audio)); err != nil {
		log.Printf("stt: metadata write failed: %v", err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"sttSessionId":   sess.ID,
		"transcript":     tr.Text,
		"audioPath":      audioRel,
		"transcriptPath": transcriptRel,
		"durationMs":     durationMs,
		"mimeType":       mimeType,
		"languageCode":   tr.LanguageCode,
	})
}

// transcriptDurationMs derives the clip length from the last word timing.
func transcriptDurationMs(tr *stt.Transcription) int64 {
	var end float64
	for _, w := range tr.Words {
		if w.End > end {
			end = w.End
		}
	}
	return int64(end * 1000)
}
