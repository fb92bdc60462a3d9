// Package session owns the artifact directory layout for one chat request:
// TTS clips under artifacts/tts/sessions/<sid>/ and the session manifest.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store creates sessions under <root>/tts/sessions.
type Store struct {
	root string
}

// NewStore returns a store rooted at the artifacts directory.
func NewStore(artifactsDir string) *Store {
	return &Store{root: artifactsDir}
}

// Root returns the artifacts root directory.
func (s *Store) Root() string { return s.root }

// Session tracks one request's TTS artifacts and manifest entries.
type Session struct {
	ID        string
	store     *Store
	createdAt time.Time

	mu       sync.Mutex
	manifest manifest
}

type manifest struct {
	SessionID string          `json:"sessionId"`
	CreatedAt string          `json:"createdAt"`
	Slots     []SlotBinding   `json:"slots"`
	Turns     map[string][]ManifestEntry `json:"turns"`
	Summary   *ManifestEntry  `json:"summary,omitempty"`
}

// SlotBinding records a slot assignment for the manifest.
type SlotBinding struct {
	SlotID  int    `json:"slotId"`
	AgentID string `json:"agentId"`
}

// ManifestEntry records one rendered clip.
type ManifestEntry struct {
	SlotID       int    `json:"slotId,omitempty"`
	AgentID      string `json:"agentId"`
	VoiceProfile string `json:"voiceProfile"`
	TargetSlotID int    `json:"targetSlotId,omitempty"`
	Text         string `json:"text"`
	AudioPath    string `json:"audioPath,omitempty"`
}

// Begin allocates a session id and creates its directory.
func (s *Store) Begin(slots []SlotBinding) (*Session, error) {
	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		store:     s,
		createdAt: time.Now().UTC(),
		manifest: manifest{
			SessionID: id,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Slots:     slots,
			Turns:     make(map[string][]ManifestEntry),
		},
	}
	if err := os.MkdirAll(sess.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return sess, nil
}

// Dir returns the session's absolute base directory.
func (sess *Session) Dir() string {
	return filepath.Join(sess.store.root, "tts", "sessions", sess.ID)
}

// TurnDir returns the directory for one turn's clips, creating it.
func (sess *Session) TurnDir(turnIndex int) (string, error) {
	dir := filepath.Join(sess.Dir(), fmt.Sprintf("turn_%d", turnIndex))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// SummaryDir returns the directory for the summary clip, creating it.
func (sess *Session) SummaryDir() (string, error) {
	dir := filepath.Join(sess.Dir(), "summary")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// TurnAudioPath returns absolute and artifact-relative paths for a turn clip.
// Turn 2 filenames carry the comment target so a directory listing shows the
// routing at a glance. targetSlotID is ignored for other turns.
func (sess *Session) TurnAudioPath(turnIndex, slotID int, agentID, voiceProfile string, targetSlotID int) (string, string, error) {
	dir, err := sess.TurnDir(turnIndex)
	if err != nil {
		return "", "", err
	}
	name := fmt.Sprintf("%d_%s_%s", slotID, sanitize(agentID), sanitize(voiceProfile))
	if turnIndex == 2 && targetSlotID > 0 {
		name += fmt.Sprintf("_comment_to_slot-%d", targetSlotID)
	}
	name += ".wav"
	abs := filepath.Join(dir, name)
	rel := fmt.Sprintf("tts/sessions/%s/turn_%d/%s", sess.ID, turnIndex, name)
	return abs, rel, nil
}

// SummaryAudioPath returns absolute and artifact-relative paths for the summary clip.
func (sess *Session) SummaryAudioPath(agentID, voiceProfile string) (string, string, error) {
	dir, err := sess.SummaryDir()
	if err != nil {
		return "", "", err
	}
	name := fmt.Sprintf("%s_%s.wav", sanitize(agentID), sanitize(voiceProfile))
	abs := filepath.Join(dir, name)
	rel := fmt.Sprintf("tts/sessions/%s/summary/%s", sess.ID, name)
	return abs, rel, nil
}

// AddTurnEntry records a clip in the manifest.
func (sess *Session) AddTurnEntry(turnIndex int, e ManifestEntry) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	key := fmt.Sprintf("turn_%d", turnIndex)
	sess.manifest.Turns[key] = append(sess.manifest.Turns[key], e)
}

// SetSummaryEntry records the summary clip in the manifest.
func (sess *Session) SetSummaryEntry(e ManifestEntry) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.manifest.Summary = &e
}

// WriteManifest writes session.json. Best-effort: failures are logged and
// never fail the request.
func (sess *Session) WriteManifest() {
	sess.mu.Lock()
	data, err := json.MarshalIndent(sess.manifest, "", "  ")
	sess.mu.Unlock()
	if err != nil {
		log.Printf("session %s: manifest marshal failed: %v", sess.ID, err)
		return
	}
	path := filepath.Join(sess.Dir(), "session.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("session %s: manifest write failed: %v", sess.ID, err)
		return
	}
	log.Printf("session %s: manifest written", sess.ID)
}

// sanitize strips path separators and whitespace from filename components.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_", "..", "_")
	return replacer.Replace(s)
}
