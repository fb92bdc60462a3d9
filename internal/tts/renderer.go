// Package tts renders text to WAV clips with one of six named voice profiles.
package tts

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
)

// PCMSource is the provider capability the renderer needs: text in, raw PCM out.
type PCMSource interface {
	GeneratePCM(ctx context.Context, text string, profile VoiceProfile, outputFormat string) ([]byte, error)
}

// Renderer resolves voice profiles and writes WAV clips to disk.
type Renderer struct {
	source          PCMSource
	outputFormat    string
	sampleRate      int
	fallbackProfile string
}

// NewRenderer builds a renderer. outputFormat follows the ElevenLabs
// convention ("pcm_24000"); the sample rate is parsed out of it.
func NewRenderer(source PCMSource, outputFormat, fallbackProfile string) *Renderer {
	if fallbackProfile == "" || !ValidProfile(fallbackProfile) {
		fallbackProfile = FallbackProfile
	}
	return &Renderer{
		source:          source,
		outputFormat:    outputFormat,
		sampleRate:      parseSampleRate(outputFormat),
		fallbackProfile: fallbackProfile,
	}
}

// SampleRate returns the PCM sample rate of rendered clips.
func (r *Renderer) SampleRate() int { return r.sampleRate }

// resolveProfile falls back to the configured default for unknown names.
func (r *Renderer) resolveProfile(name string) VoiceProfile {
	p, err := GetProfile(name)
	if err != nil {
		log.Printf("tts: invalid profile %q, falling back to %q", name, r.fallbackProfile)
		p, _ = GetProfile(r.fallbackProfile)
	}
	return p
}

// RenderToFile synthesises text with the named profile and writes a WAV clip.
// Returns the profile actually used (after fallback).
func (r *Renderer) RenderToFile(ctx context.Context, text, profileName, path string) (VoiceProfile, error) {
	profile := r.resolveProfile(profileName)
	if strings.TrimSpace(text) == "" {
		return profile, fmt.Errorf("tts: empty text")
	}

	log.Printf("tts: rendering profile=%s voice=%s chars=%d -> %s",
		profile.Name, profile.VoiceName, len(text), path)

	pcm, err := r.source.GeneratePCM(ctx, text, profile, r.outputFormat)
	if err != nil {
		return profile, err
	}
	if len(pcm) == 0 {
		return profile, fmt.Errorf("tts: provider returned no audio")
	}
	if err := WriteWAVFile(pcm, path, r.sampleRate); err != nil {
		return profile, err
	}
	return profile, nil
}

// parseSampleRate extracts the rate from a format string like "pcm_24000".
func parseSampleRate(outputFormat string) int {
	parts := strings.SplitN(outputFormat, "_", 2)
	if len(parts) == 2 {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			return n
		}
	}
	return 24000
}
