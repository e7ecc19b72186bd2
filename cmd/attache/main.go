package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rowan/attache/internal/agent"
	"github.com/rowan/attache/internal/gateway"
	"github.com/rowan/attache/internal/governance"
	"github.com/rowan/attache/internal/ingest"
	"github.com/rowan/attache/internal/observability"
	"github.com/rowan/attache/internal/profile"
	"github.com/rowan/attache/internal/retrieval"
	"github.com/rowan/attache/internal/store"
	"github.com/rowan/attache/internal/telemetry"
	"github.com/rowan/attache/pkg/config"
)

func newProviderLLM(p config.ProviderConfig, model string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithToken(p.APIKey),
		openai.WithModel(model),
	}
	if p.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.BaseURL))
	}
	return openai.New(opts...)
}

func main() {
	observability.PrintBanner()

	// Route all log output through the terminal mutex so concurrent
	// writes never interleave.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig("config.json")

	metrics := telemetry.NewMetrics()
	ledger := telemetry.NewLedger(cfg.Telemetry.LedgerPath)

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var llm llms.Model
	switch pName {
	case "openai", "openrouter":
		llm, err = newProviderLLM(pCfg, pCfg.Model)
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	if err != nil {
		log.Fatal(err)
	}

	profiles, err := profile.NewStore(cfg.Profiles.Dir, cfg.Profiles.PersonaDir)
	if err != nil {
		log.Fatal(err)
	}

	policy, err := governance.NewRuleEngine(cfg.Policy.RulesPath)
	if err != nil {
		log.Fatal(err)
	}

	assistant := agent.NewAssistant(llm, profiles, policy, history, ledger, metrics)

	srv := &gateway.Server{
		Assistant: assistant,
		Profiles:  profiles,
		Policy:    policy,
		Metrics:   metrics,
	}

	// The retrieval pipeline needs Postgres with pgvector; without a
	// database URL those routes answer 503 and chat still works.
	if cfg.Retrieval.DatabaseURL != "" {
		chunks, err := store.NewChunkStore(cfg.Retrieval.DatabaseURL, cfg.Retrieval.EmbedDim)
		if err != nil {
			log.Fatal(err)
		}

		embedLLM, err := newProviderLLM(pCfg, cfg.Retrieval.EmbedModel)
		if err != nil {
			log.Fatal(err)
		}
		client, ok := embedLLM.(embeddings.EmbedderClient)
		if !ok {
			log.Fatalf("Provider %s cannot produce embeddings", pName)
		}
		embedder, err := embeddings.NewEmbedder(client)
		if err != nil {
			log.Fatal(err)
		}

		retriever := retrieval.NewRetriever(chunks, embedder, cfg.Retrieval.EmbedModelTag)
		engine := retrieval.NewEngine(retriever,
			cfg.Retrieval.MaxParallel,
			time.Duration(cfg.Retrieval.QueryTimeoutSeconds)*time.Second)

		srv.Engine = engine
		srv.Planner = agent.NewPlanner(agent.LocalDecomposer{}, engine, ledger, metrics)
		srv.Ingestor = ingest.NewIngestor(chunks, embedder, cfg.Retrieval.EmbedModelTag)
	} else {
		log.Println("Warning: retrieval.database_url not set, planning and retrieval routes disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gateways []gateway.Messenger

	if tgCfg, ok := cfg.GetGateway("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, assistant, "")
		if err != nil {
			log.Fatal(err)
		}
		gateways = append(gateways, tg)
		go func() {
			if err := tg.Start(); err != nil {
				log.Printf("Telegram gateway stopped: %v", err)
			}
		}()
	}

	if dcCfg, ok := cfg.GetGateway("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, assistant, "")
		if err != nil {
			log.Fatal(err)
		}
		gateways = append(gateways, dc)
		go func() {
			if err := dc.Start(); err != nil {
				log.Printf("Discord gateway stopped: %v", err)
			}
		}()
	}

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	for _, g := range gateways {
		if err := g.Stop(); err != nil {
			log.Printf("Gateway shutdown error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	log.Println("Shutdown complete")
}
