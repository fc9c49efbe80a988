package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antoniostano/samantha/internal/auth"
	"github.com/antoniostano/samantha/internal/cache"
	"github.com/antoniostano/samantha/internal/config"
	"github.com/antoniostano/samantha/internal/httpapi"
	"github.com/antoniostano/samantha/internal/janitor"
	"github.com/antoniostano/samantha/internal/kvstore"
	"github.com/antoniostano/samantha/internal/memory"
	"github.com/antoniostano/samantha/internal/observability"
	"github.com/antoniostano/samantha/internal/provider"
	"github.com/antoniostano/samantha/internal/session"
	"github.com/antoniostano/samantha/internal/voice"
)

// gatewaySweeper fans the janitor's periodic tick out to every store that
// needs its own TTL sweep on the in-memory fallback (§4.11).
type gatewaySweeper struct {
	sessions *session.Store
	cache    *cache.SemanticCache
}

func (g gatewaySweeper) CleanupExpired(ctx context.Context) (int, error) {
	sessionsRemoved, err := g.sessions.CleanupExpired(ctx)
	if err != nil {
		return sessionsRemoved, err
	}
	cacheRemoved, err := g.cache.CleanupIndex(ctx)
	return sessionsRemoved + cacheRemoved, err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	store := kvstore.New(ctx, cfg.RedisURL)
	sessions := session.NewStore(store, time.Duration(cfg.SessionTimeoutSeconds)*time.Second)
	semanticCache := cache.New(store, cfg.CacheSimilarityThreshold, cfg.CacheTTLDefault)
	if seeded := cache.Warm(ctx, semanticCache, cache.DefaultWarmEntries); seeded > 0 {
		log.Printf("cache warmer: seeded %d canonical entries", seeded)
	}

	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace, 1000)
	issuer := auth.NewIssuer(cfg.JWTSecretKey, cfg.TokenTTL)

	realtime := provider.NewRealtimeVendorAdapter(provider.RealtimeVendorConfig{
		Name:                "realtime-vendor",
		APIKey:              cfg.RealtimeVendorAPIKey,
		WSBaseURL:           cfg.RealtimeVendorWSBaseURL,
		STTModelID:          cfg.RealtimeVendorSTTModel,
		DefaultVoiceID:      cfg.RealtimeVendorVoiceID,
		DefaultModelID:      cfg.RealtimeVendorModelID,
		DefaultOutputFormat: cfg.RealtimeVendorOutputFmt,
		Priority:            0,
	})
	sttMgr := provider.NewManager[provider.STTAdapter](provider.TypeSTT, provider.STTAdapter(realtime))
	ttsMgr := provider.NewManager[provider.TTSAdapter](provider.TypeTTS, provider.TTSAdapter(realtime))

	llmAdapter := provider.NewHTTPLLMVendorAdapter(provider.HTTPLLMVendorConfig{
		Name:     "http-llm-vendor",
		BaseURL:  cfg.HTTPLLMVendorBaseURL,
		APIKey:   cfg.HTTPLLMVendorAPIKey,
		Model:    cfg.HTTPLLMVendorModel,
		Priority: 0,
	})
	llmMgr := provider.NewManager[provider.LLMAdapter](provider.TypeLLM, provider.LLMAdapter(llmAdapter))

	searchAdapter := provider.NewHTTPSearchVendorAdapter(provider.HTTPSearchVendorConfig{
		Name:     "http-search-vendor",
		BaseURL:  cfg.SearchVendorBaseURL,
		APIKey:   cfg.SearchVendorAPIKey,
		Priority: 0,
	})
	searchMgr := provider.NewManager[provider.SearchAdapter](provider.TypeSearch, provider.SearchAdapter(searchAdapter))

	orchestrator := voice.NewOrchestrator(
		sessions,
		memoryStore,
		semanticCache,
		sttMgr,
		llmMgr,
		ttsMgr,
		searchMgr,
		metrics,
		cfg.SampleRate,
		provider.TTSSettings{VoiceID: cfg.RealtimeVendorVoiceID, ModelID: cfg.RealtimeVendorModelID},
		nil,
	)

	api := httpapi.New(cfg, sessions, orchestrator, metrics, issuer)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sweeper := janitor.New(gatewaySweeper{sessions: sessions, cache: semanticCache}, janitor.DefaultInterval)
	sweeper.Start(runCtx)
	defer sweeper.Stop()

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
