package stt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Session holds one upload's artifacts:
//
//	artifacts/stt/sessions/<ssid>/
//	  input.<ext>      original uploaded audio
//	  transcript.json  full Scribe response
//	  transcript.txt   plain text
//	  metadata.json    timing, mime type, size
type Session struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// SessionStore creates sessions under <root>/stt/sessions.
type SessionStore struct {
	root string
}

func NewSessionStore(artifactsDir string) *SessionStore {
	return &SessionStore{root: artifactsDir}
}

// Begin allocates a session id and creates its directory.
func (s *SessionStore) Begin() (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(s.root, "stt", "sessions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create stt session dir: %w", err)
	}
	return &Session{ID: id, Dir: dir, CreatedAt: time.Now().UTC()}, nil
}

// SaveInput writes the uploaded audio and returns its artifact-relative path.
func (sess *Session) SaveInput(audio []byte, ext string) (string, error) {
	name := "input." + ext
	if err := os.WriteFile(filepath.Join(sess.Dir, name), audio, 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("stt/sessions/%s/%s", sess.ID, name), nil
}

// SaveTranscript writes transcript.json and transcript.txt, returning the
// relative path of the plain-text transcript.
func (sess *Session) SaveTranscript(raw json.RawMessage, plainText string) (string, error) {
	if err := os.WriteFile(filepath.Join(sess.Dir, "transcript.json"), raw, 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(sess.Dir, "transcript.txt"), []byte(plainText), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("stt/sessions/%s/transcript.txt", sess.ID), nil
}

// SaveMetadata writes metadata.json.
func (sess *Session) SaveMetadata(mimeType string, durationMs int64, sizeBytes int) error {
	meta := map[string]any{
		"sessionId": sess.ID,
		"createdAt": sess.CreatedAt.Format(time.RFC3339),
		"mimeType":  mimeType,
		"durationMs": durationMs,
		"sizeBytes": sizeBytes,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sess.Dir, "metadata.json"), data, 0o644)
}
