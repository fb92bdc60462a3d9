package tts

import "fmt"

// VoiceSettings are the ElevenLabs voice-shaping parameters.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

// VoiceProfile bundles a provider voice id with its shaping parameters.
type VoiceProfile struct {
	Name        string
	VoiceID     string
	VoiceName   string
	Description string
	ModelID     string
	Settings    VoiceSettings
}

// FallbackProfile is used when a model picks a profile that does not exist.
const FallbackProfile = "friendly_casual"

const defaultModelID = "eleven_flash_v2_5"

// profiles is the fixed table of the six installation voices.
var profiles = map[string]VoiceProfile{
	"friendly_casual": {
		Name:        "friendly_casual",
		VoiceID:     "cgSgspJ2msm6clMCkdW9", // Jessica
		VoiceName:   "Jessica",
		Description: "Young female, American, expressive, conversational",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.45, SimilarityBoost: 0.75, Style: 0.15, UseSpeakerBoost: true, Speed: 1.0},
	},
	"warm_professional": {
		Name:        "warm_professional",
		VoiceID:     "cjVigY5qzO86Huf0OWal", // Eric
		VoiceName:   "Eric",
		Description: "Middle-aged male, American, friendly, professional",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.55, SimilarityBoost: 0.75, Style: 0.1, UseSpeakerBoost: true, Speed: 0.95},
	},
	"energetic_upbeat": {
		Name:        "energetic_upbeat",
		VoiceID:     "FGY2WhTYpPnrIDTdsKH5", // Laura
		VoiceName:   "Laura",
		Description: "Young female, American, upbeat, energetic",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.35, SimilarityBoost: 0.75, Style: 0.25, UseSpeakerBoost: true, Speed: 1.05},
	},
	"calm_soothing": {
		Name:        "calm_soothing",
		VoiceID:     "21m00Tcm4TlvDq8ikWAM", // Rachel
		VoiceName:   "Rachel",
		Description: "Young female, American, calm, pleasant",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.65, SimilarityBoost: 0.75, Style: 0.05, UseSpeakerBoost: true, Speed: 0.92},
	},
	"confident_charming": {
		Name:        "confident_charming",
		VoiceID:     "JBFqnCBsd6RMkjVDRZzb", // George
		VoiceName:   "George",
		Description: "Middle-aged male, British, warm, articulate",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.50, SimilarityBoost: 0.75, Style: 0.15, UseSpeakerBoost: true, Speed: 0.98},
	},
	"playful_expressive": {
		Name:        "playful_expressive",
		VoiceID:     "EXAVITQu4vr4xnSDxMaL", // Sarah
		VoiceName:   "Sarah",
		Description: "Young female, expressive, dynamic range",
		ModelID:     defaultModelID,
		Settings:    VoiceSettings{Stability: 0.30, SimilarityBoost: 0.75, Style: 0.30, UseSpeakerBoost: true, Speed: 1.0},
	},
}

// GetProfile returns the named profile or an error listing valid names.
func GetProfile(name string) (VoiceProfile, error) {
	p, ok := profiles[name]
	if !ok {
		return VoiceProfile{}, fmt.Errorf("unknown voice profile %q (valid: %v)", name, ListProfiles())
	}
	return p, nil
}

// ListProfiles returns the profile names in a stable order.
func ListProfiles() []string {
	return []string{
		"friendly_casual",
		"warm_professional",
		"energetic_upbeat",
		"calm_soothing",
		"confident_charming",
		"playful_expressive",
	}
}

// ValidProfile reports whether name is a known profile.
func ValidProfile(name string) bool {
	_, ok := profiles[name]
	return ok
}
