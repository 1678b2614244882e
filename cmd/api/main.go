// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/config"
	"github.com/capitalize-ai/shopping-assistant/internal/flow"
	"github.com/capitalize-ai/shopping-assistant/internal/handler"
	"github.com/capitalize-ai/shopping-assistant/internal/llm"
	natsclient "github.com/capitalize-ai/shopping-assistant/internal/nats"
	"github.com/capitalize-ai/shopping-assistant/internal/persona"
	"github.com/capitalize-ai/shopping-assistant/internal/service"
	"github.com/capitalize-ai/shopping-assistant/internal/speech"
	"github.com/capitalize-ai/shopping-assistant/internal/state"
	"github.com/capitalize-ai/shopping-assistant/internal/store"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/tracing"
)

const streamMetricsInterval = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "shopping-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Flow definition
	def := flow.DefaultDefinition()
	if cfg.FlowDefinitionPath != "" {
		def, err = flow.LoadDefinition(cfg.FlowDefinitionPath)
		if err != nil {
			log.Fatal("failed to load flow definition", zap.String("path", cfg.FlowDefinitionPath), zap.Error(err))
		}
	}

	// Persona and session storage
	db, err := store.Open(ctx, cfg.DatabaseDSN, cfg.DBMaxOpenConns, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	personas := store.NewPersonaStore(db)
	sessions := store.NewSessionStore(db)

	// Connect to NATS. The memory state backend runs without it, losing the
	// conversation log and cross-instance notifications.
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
		Name:     "shopping-assistant",
	}, log)
	if err != nil {
		if cfg.StateBackend == config.StateBackendNATS {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		log.Warn("NATS unavailable, conversation log and change relay disabled", zap.Error(err))
		natsClient = nil
	}
	if natsClient != nil {
		defer natsClient.Close()
	}

	// Assistant state store
	hub := state.NewHub(0)
	defer hub.Close()
	notifiers := state.Notifiers{hub}

	var backend state.Backend = state.NewMemoryBackend()
	var conversationLog service.ConversationLog
	if natsClient != nil {
		if cfg.StateBackend == config.StateBackendNATS {
			kv, err := natsclient.NewKVBackend(ctx, natsClient)
			if err != nil {
				log.Fatal("failed to open state bucket", zap.Error(err))
			}
			backend = kv
		}

		relay := natsclient.NewNotifier(natsClient, log)
		if err := relay.Forward(hub); err != nil {
			log.Fatal("failed to relay state changes", zap.Error(err))
		}
		defer relay.Close()
		notifiers = append(notifiers, relay)

		turns := natsclient.NewConversationLog(natsClient)
		if err := turns.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		conversationLog = turns
		go reportStreamMetrics(ctx, turns, log)
	}

	recognizer := persona.NewRecognizer(personas, log)
	engine := flow.NewEngine(def, recognizer,
		flow.WithRecognitionTimeout(cfg.RecognitionTimeout),
		flow.WithLogger(log),
	)
	states := state.NewStore(backend, engine.NewSession,
		state.WithNotifier(notifiers),
		state.WithTimeout(cfg.StateStoreTimeout),
		state.WithLogger(log),
	)
	manager := flow.NewManager(engine, states, sessions, log)

	// Optional LLM phrasing
	var (
		llmClient llm.Client
		llmErr    error
	)
	switch cfg.PhrasingProvider {
	case config.PhrasingAnthropic:
		llmClient, llmErr = llm.NewClient(llm.Config{Provider: llm.ProviderAnthropic, APIKey: cfg.AnthropicAPIKey})
	case config.PhrasingOpenAI:
		llmClient, llmErr = llm.NewClient(llm.Config{Provider: llm.ProviderOpenAI, APIKey: cfg.OpenAIAPIKey})
	}
	if llmErr != nil {
		log.Warn("failed to create LLM client, prompt phrasing disabled", zap.Error(llmErr))
		llmClient = nil
	}

	// Initialize services
	conversationSvc := service.NewConversationService(conversationLog, log)
	assistantSvc := service.NewAssistantService(manager, personas, log,
		service.WithConversation(conversationSvc),
		service.WithPhraser(service.NewPhraser(llmClient, cfg.PhrasingModel, cfg.PhrasingTimeout, log)),
		service.WithHistoryLimit(cfg.HistoryLimit),
	)
	personaSvc := service.NewPersonaService(personas, recognizer, log)
	speechSvc := speech.New(speech.Config{
		APIKey:        cfg.OpenAIAPIKey,
		Voice:         cfg.SpeechVoice,
		MaxAudioBytes: cfg.SpeechMaxAudioBytes,
	}, log)
	if !speechSvc.Configured() {
		log.Warn("OPENAI_API_KEY not set, speech endpoints disabled")
	}

	// Initialize handlers
	checks := map[string]handler.Pinger{"database": db}
	if natsClient != nil {
		checks["nats"] = natsClient
	}
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Handlers{
		Health:       handler.NewHealthHandler(checks),
		Flow:         handler.NewFlowHandler(assistantSvc, log),
		Events:       handler.NewEventsHandler(hub, assistantSvc, cfg.SSEHeartbeat, log),
		Personas:     handler.NewPersonaHandler(personaSvc, log),
		Conversation: handler.NewConversationHandler(conversationSvc, log),
		Speech:       handler.NewSpeechHandler(speechSvc, log),
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort), zap.String("state_backend", cfg.StateBackend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down server")

	// End SSE streams so Shutdown does not wait on them.
	hub.Close()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if cfg.Env == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.LogLevel)
}

func reportStreamMetrics(ctx context.Context, turns *natsclient.ConversationLog, log *logger.Logger) {
	ticker := time.NewTicker(streamMetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := turns.UpdateMetrics(ctx); err != nil {
				log.Debug("failed to update stream metrics", zap.Error(err))
			}
		}
	}
}
