package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestScribe_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Fatalf("missing api key header, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model_id") != "scribe_v1" {
			t.Fatalf("model_id = %q", r.FormValue("model_id"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":          "hello water",
			"language_code": "en",
		})
	}))
	defer srv.Close()

	c := NewScribeClient("key")
	c.BaseURL = srv.URL
	tr, err := c.Transcribe(context.Background(), "input.webm", []byte("fake-audio"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if tr.Text != "hello water" || tr.LanguageCode != "en" {
		t.Fatalf("unexpected transcription: %+v", tr)
	}
	if len(tr.Raw) == 0 {
		t.Fatalf("expected raw response preserved")
	}
}

func TestScribe_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broken"))
	}))
	defer srv.Close()

	c := NewScribeClient("key")
	c.BaseURL = srv.URL
	_, err := c.Transcribe(context.Background(), "input.wav", []byte("x"))
	se, ok := err.(*ScribeError)
	if !ok {
		t.Fatalf("expected ScribeError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", se.StatusCode)
	}
}

func TestSession_Artifacts(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	sess, err := store.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rel, err := sess.SaveInput([]byte("audio"), "webm")
	if err != nil {
		t.Fatalf("save input: %v", err)
	}
	if rel != "stt/sessions/"+sess.ID+"/input.webm" {
		t.Fatalf("unexpected rel path: %s", rel)
	}
	trRel, err := sess.SaveTranscript(json.RawMessage(`{"text":"hi"}`), "hi")
	if err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if trRel != "stt/sessions/"+sess.ID+"/transcript.txt" {
		t.Fatalf("unexpected transcript path: %s", trRel)
	}
	if err := sess.SaveMetadata("audio/webm", 1200, 5); err != nil {
		t.Fatalf("save metadata: %v", err)
	}
	for _, f := range []string{"input.webm", "transcript.json", "transcript.txt", "metadata.json"} {
		if _, err := os.Stat(filepath.Join(sess.Dir, f)); err != nil {
			t.Fatalf("missing artifact %s: %v", f, err)
		}
	}
}
