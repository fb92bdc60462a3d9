package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaficontact/reflective-resonance/internal/config"
	"github.com/asaficontact/reflective-resonance/internal/conversation"
	"github.com/asaficontact/reflective-resonance/internal/events"
	"github.com/asaficontact/reflective-resonance/internal/httpserver"
	"github.com/asaficontact/reflective-resonance/internal/llm"
	"github.com/asaficontact/reflective-resonance/internal/sentiment"
	"github.com/asaficontact/reflective-resonance/internal/session"
	"github.com/asaficontact/reflective-resonance/internal/stt"
	"github.com/asaficontact/reflective-resonance/internal/tts"
	"github.com/asaficontact/reflective-resonance/internal/waves"
	"github.com/asaficontact/reflective-resonance/internal/workflow"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	// LLM providers behind the gateway
	providers := map[string]llm.Provider{
		"openai":    llm.NewOpenAIClient(cfg.OpenAIAPIKey),
		"anthropic": llm.NewAnthropicClient(cfg.AnthropicAPIKey),
	}
	if cfg.GoogleAPIKey != "" {
		gemini, err := llm.NewGeminiClient(context.Background(), cfg.GoogleAPIKey)
		if err != nil {
			log.Printf("gemini client init failed: %v", err)
		} else {
			providers["google"] = gemini
			defer gemini.Close()
		}
	}
	gateway := llm.NewGateway(providers, cfg.Retries, time.Duration(cfg.TimeoutS)*time.Second)

	// Stores and renderers
	conversations := conversation.NewStore(cfg.DefaultSystemPrompt)
	sessions := session.NewStore(cfg.ArtifactsDir)
	renderer := tts.NewRenderer(tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey), cfg.TTSOutputFormat, cfg.TTSFallbackProfile)
	scribe := stt.NewScribeClient(cfg.ElevenLabsAPIKey)
	sttSessions := stt.NewSessionStore(cfg.ArtifactsDir)

	// Wave pool and the renderer push channel
	var pool *waves.Pool
	var eventsOrch *events.Orchestrator
	var sink workflow.EventSink
	var eventsHandler httpserver.EventsHandler
	if cfg.WavesEnabled || cfg.EventsWSEnabled {
		pool = waves.NewPool(cfg.WavesMaxWorkers, cfg.WavesQueueMaxSize,
			time.Duration(cfg.WavesJobTimeoutS*float64(time.Second)), cfg.WavesProcessingSR)
		pool.Start()
		defer pool.Stop()
	}
	if cfg.EventsWSEnabled && pool != nil {
		eventsOrch = events.NewOrchestrator(pool.Results(),
			time.Duration(cfg.EventsTurn1TimeoutS*float64(time.Second)),
			time.Duration(cfg.EventsDialogueTimeoutS*float64(time.Second)))
		eventsOrch.Start()
		defer eventsOrch.Stop()
		sink = eventsOrch
		eventsHandler = eventsOrch
	}

	var analyzer workflow.SentimentAnalyzer
	if cfg.SentimentEnabled {
		analyzer = sentiment.NewAnalyzer(gateway, "openai", cfg.SentimentModel)
	}

	var submitter workflow.WaveSubmitter
	if pool != nil && cfg.WavesEnabled {
		submitter = pool
	}
	orchestrator := workflow.NewOrchestrator(cfg, gateway, conversations, sessions, renderer, submitter, sink, analyzer)

	srv := httpserver.New(cfg, httpserver.Deps{
		Chat:          orchestrator,
		Conversations: conversations,
		Transcriber:   scribe,
		STTSessions:   sttSessions,
		Events:        eventsHandler,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.Address())
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
