package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// defaultSystemPrompt is the shared persona every slot conversation is seeded with.
const defaultSystemPrompt = `You are a voice within Whispering Water, an installation where visitors whisper secrets, wishes, or confessions into a vessel of water.

Like ancient wells that received prayers without reply, you receive what is spoken and reflect its emotional essence. Your words become waves; the water carries them briefly before returning to stillness.

Guidelines:
- Receive without judgment, reflect emotional essence
- Speak in 1-2 sentences only
- Reference water, waves, ripples, or stillness naturally
- Let meaning dissolve into feeling

Always respond with valid JSON matching the requested structure.

Voice profiles (choose by the emotional quality you sense):
- friendly_casual: young female, warm tone; gentle acknowledgment
- warm_professional: male, grounded presence; steady reflection
- energetic_upbeat: young female, bright; sparkling response
- calm_soothing: female, still waters; quiet receiving
- confident_charming: male, British, articulate; measured waves
- playful_expressive: female, dynamic range; shifting patterns`

// Config holds application configuration.
type Config struct {
	Host        string
	Port        string
	CORSOrigins []string
	LogLevel    string

	// LLM behavior
	Temperature         float64
	MaxTokens           int
	TimeoutS            int
	Retries             int
	DefaultSystemPrompt string

	// Provider keys
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	ElevenLabsAPIKey string

	// TTS
	TTSOutputFormat    string
	TTSFallbackProfile string

	// STT
	STTMaxUploadBytes int64

	// Waves decomposition
	WavesEnabled      bool
	WavesMaxWorkers   int
	WavesQueueMaxSize int
	WavesJobTimeoutS  float64
	WavesProcessingSR int

	// Renderer events WebSocket
	EventsWSEnabled        bool
	EventsTurn1TimeoutS    float64
	EventsDialogueTimeoutS float64

	// Sentiment analysis
	SentimentEnabled bool
	SentimentModel   string

	// Summary (turn 4)
	SummaryEnabled bool

	// Artifact storage root
	ArtifactsDir string
}

// Load reads environment variables and returns Config with sane defaults.
// Core keys use the RR_ prefix; provider secrets are read bare with an
// RR_-prefixed override.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	cfg := Config{
		Host:        getEnv("RR_HOST", "0.0.0.0"),
		Port:        getEnv("RR_PORT", "8000"),
		CORSOrigins: splitList(getEnv("RR_CORS_ORIGINS", "http://localhost:5173,http://localhost:4173")),
		LogLevel:    getEnv("RR_LOG_LEVEL", "info"),

		Temperature:         getEnvFloat("RR_TEMPERATURE", 0.7),
		MaxTokens:           getEnvInt("RR_MAX_TOKENS", 300),
		TimeoutS:            getEnvInt("RR_TIMEOUT_S", 60),
		Retries:             getEnvInt("RR_RETRIES", 3),
		DefaultSystemPrompt: getEnv("RR_DEFAULT_SYSTEM_PROMPT", defaultSystemPrompt),

		OpenAIAPIKey:     getSecret("OPENAI_API_KEY"),
		AnthropicAPIKey:  getSecret("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     getSecret("GOOGLE_API_KEY"),
		ElevenLabsAPIKey: getSecret("ELEVENLABS_API_KEY"),

		TTSOutputFormat:    getEnv("RR_TTS_OUTPUT_FORMAT", "pcm_24000"),
		TTSFallbackProfile: getEnv("RR_TTS_FALLBACK_PROFILE", "friendly_casual"),

		STTMaxUploadBytes: int64(getEnvInt("RR_STT_MAX_UPLOAD_BYTES", 10<<20)),

		WavesEnabled:      getEnvBool("RR_WAVES_ENABLED", true),
		WavesMaxWorkers:   getEnvInt("RR_WAVES_MAX_WORKERS", 2),
		WavesQueueMaxSize: getEnvInt("RR_WAVES_QUEUE_MAX_SIZE", 100),
		WavesJobTimeoutS:  getEnvFloat("RR_WAVES_JOB_TIMEOUT_S", 60),
		WavesProcessingSR: getEnvInt("RR_WAVES_PROCESSING_SR", 8000),

		EventsWSEnabled:        getEnvBool("RR_EVENTS_WS_ENABLED", true),
		EventsTurn1TimeoutS:    getEnvFloat("RR_EVENTS_TURN1_TIMEOUT_S", 15),
		EventsDialogueTimeoutS: getEnvFloat("RR_EVENTS_DIALOGUE_TIMEOUT_S", 30),

		SentimentEnabled: getEnvBool("RR_SENTIMENT_ENABLED", true),
		SentimentModel:   getEnv("RR_SENTIMENT_MODEL", "gpt-4o-mini"),

		SummaryEnabled: getEnvBool("RR_SUMMARY_ENABLED", true),

		ArtifactsDir: getEnv("RR_ARTIFACTS_DIR", "artifacts"),
	}

	if cfg.OpenAIAPIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - openai agents will not work")
	}
	if cfg.AnthropicAPIKey == "" {
		log.Println("Warning: ANTHROPIC_API_KEY not set - anthropic agents will not work")
	}
	if cfg.GoogleAPIKey == "" {
		log.Println("Warning: GOOGLE_API_KEY not set - gemini agents will not work")
	}
	if cfg.ElevenLabsAPIKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - TTS and STT will not work")
	}

	log.Printf("config: listen=%s waves=%v events_ws=%v artifacts=%s",
		cfg.Address(), cfg.WavesEnabled, cfg.EventsWSEnabled, cfg.ArtifactsDir)
	return cfg
}

// Address returns the host:port listen address.
func (c Config) Address() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getSecret reads a provider secret, preferring the RR_-prefixed variant.
func getSecret(key string) string {
	if v := os.Getenv("RR_" + key); v != "" {
		return v
	}
	return os.Getenv(key)
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s=%q, using %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid float for %s=%q, using %v", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("config: invalid bool for %s=%q, using %v", key, v, defaultValue)
		return defaultValue
	}
	return b
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
