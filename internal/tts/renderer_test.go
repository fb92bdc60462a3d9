package tts

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type fakeSource struct {
	pcm        []byte
	err        error
	lastText   string
	lastName   string
	lastFormat string
}

func (f *fakeSource) GeneratePCM(ctx context.Context, text string, profile VoiceProfile, outputFormat string) ([]byte, error) {
	f.lastText = text
	f.lastName = profile.Name
	f.lastFormat = outputFormat
	return f.pcm, f.err
}

func TestPCMToWAV_Header(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav := PCMToWAV(pcm, 24000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("unexpected wav size %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad riff header")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("sample rate %d", rate)
	}
	if sz := binary.LittleEndian.Uint32(wav[40:44]); int(sz) != len(pcm) {
		t.Fatalf("data size %d", sz)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Fatalf("bits %d", bits)
	}
}

func TestRenderToFile_WritesWAV(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0, 2, 0}}
	r := NewRenderer(src, "pcm_24000", "friendly_casual")
	path := filepath.Join(t.TempDir(), "out", "clip.wav")
	profile, err := r.RenderToFile(context.Background(), "hello", "calm_soothing", path)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if profile.Name != "calm_soothing" {
		t.Fatalf("profile %s", profile.Name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if len(data) != 44+4 {
		t.Fatalf("unexpected clip size %d", len(data))
	}
}

func TestRenderToFile_FallbackOnUnknownProfile(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	r := NewRenderer(src, "pcm_24000", "friendly_casual")
	path := filepath.Join(t.TempDir(), "clip.wav")
	profile, err := r.RenderToFile(context.Background(), "hello", "does_not_exist", path)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if profile.Name != "friendly_casual" {
		t.Fatalf("expected fallback profile, got %s", profile.Name)
	}
}

func TestRenderToFile_EmptyTextFails(t *testing.T) {
	src := &fakeSource{pcm: []byte{1, 0}}
	r := NewRenderer(src, "pcm_24000", "friendly_casual")
	if _, err := r.RenderToFile(context.Background(), "   ", "calm_soothing", filepath.Join(t.TempDir(), "x.wav")); err == nil {
		t.Fatalf("expected error on empty text")
	}
}

func TestParseSampleRate(t *testing.T) {
	if got := parseSampleRate("pcm_48000"); got != 48000 {
		t.Fatalf("got %d", got)
	}
	if got := parseSampleRate("weird"); got != 24000 {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestProfiles_TableComplete(t *testing.T) {
	names := ListProfiles()
	if len(names) != 6 {
		t.Fatalf("expected 6 profiles, got %d", len(names))
	}
	for _, n := range names {
		p, err := GetProfile(n)
		if err != nil {
			t.Fatalf("profile %s: %v", n, err)
		}
		if p.VoiceID == "" || p.ModelID == "" {
			t.Fatalf("profile %s incomplete", n)
		}
	}
	if !ValidProfile(FallbackProfile) {
		t.Fatalf("fallback profile must be valid")
	}
}
