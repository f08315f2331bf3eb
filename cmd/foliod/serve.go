package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/foliolabs/folio/internal/augment"
	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/config"
	"github.com/foliolabs/folio/internal/drive"
	"github.com/foliolabs/folio/internal/embed"
	"github.com/foliolabs/folio/internal/extract"
	"github.com/foliolabs/folio/internal/httpapi"
	"github.com/foliolabs/folio/internal/indexer"
	"github.com/foliolabs/folio/internal/llm"
	"github.com/foliolabs/folio/internal/logging"
	"github.com/foliolabs/folio/internal/metrics"
	"github.com/foliolabs/folio/internal/rerank"
	"github.com/foliolabs/folio/internal/retrieval"
	"github.com/foliolabs/folio/internal/store"
	"github.com/foliolabs/folio/internal/syncer"
)

// serve wires every component and blocks until a signal or a fatal
// component error.
func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting foliod",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("workers", cfg.Indexing.Workers),
	)

	st, err := store.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Embedding.Dimensions)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	driveClient, err := drive.NewClient(drive.Config{
		BaseURL:  cfg.Drive.BaseURL,
		Timeout:  cfg.Drive.Timeout,
		PageSize: cfg.Drive.PageSize,
	})
	if err != nil {
		return fmt.Errorf("initializing drive client: %w", err)
	}
	tokens := drive.StaticTokenSource(cfg.Drive.Token)

	m := metrics.New(prometheus.DefaultRegisterer)

	embedder, err := embed.NewClient(embed.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		APIKey:         cfg.Embedding.APIKey,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		BatchSize:      cfg.Embedding.BatchSize,
		MaxConcurrency: cfg.Embedding.MaxConcurrency,
		Timeout:        cfg.Embedding.Timeout,
		Metrics:        m,
	})
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	generator, err := llm.NewClient(llm.Config{
		BaseURL:   cfg.Generator.BaseURL,
		APIKey:    cfg.Generator.APIKey,
		Model:     cfg.Generator.Model,
		FastModel: cfg.Generator.FastModel,
		MaxTokens: cfg.Generator.MaxTokens,
		Timeout:   cfg.Generator.Timeout,
		Metrics:   m,
	})
	if err != nil {
		return fmt.Errorf("initializing generator: %w", err)
	}

	var reranker rerank.Reranker
	if cfg.Reranker.Enabled {
		rr, err := rerank.NewClient(rerank.Config{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  cfg.Reranker.APIKey,
			Timeout: cfg.Reranker.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initializing reranker: %w", err)
		}
		reranker = rr
	}

	var ocr *extract.OCRClient
	if cfg.OCR.BaseURL != "" {
		ocr, err = extract.NewOCRClient(extract.OCRConfig{
			BaseURL: cfg.OCR.BaseURL,
			Timeout: cfg.OCR.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initializing OCR client: %w", err)
		}
	}
	extractor := extract.NewService(ocr)

	chunk := chunker.New(chunker.Config{
		TargetChars:  cfg.Indexing.ChunkTargetChars,
		OverlapChars: cfg.Indexing.ChunkOverlapChars,
	})
	situator := augment.New(augment.Config{
		Enabled:      cfg.Indexing.ContextualChunking,
		MinDocLength: cfg.Indexing.MinAugmentDocLength,
		Concurrency:  cfg.Indexing.AugmentConcurrency,
	}, generator, log)

	pool := indexer.New(indexer.Config{
		Workers:          cfg.Indexing.Workers,
		PollInterval:     cfg.Indexing.PollInterval,
		RetryBackoffBase: cfg.Indexing.RetryBackoffBase,
		RetryBackoffCap:  cfg.Indexing.RetryBackoffCap,
	}, st, driveClient, tokens, extractor, chunk, situator, embedder, m, log)

	sync := syncer.New(syncer.Config{
		Interval:    cfg.Sync.Interval,
		MaxAttempts: cfg.Indexing.MaxAttempts,
	}, st, driveClient, tokens, m, log)
	dispatcher := syncer.NewDispatcher(sync, st, log, 0)

	searcher := retrieval.New(retrieval.Config{
		VectorWeight:    cfg.Retrieval.VectorWeight,
		LexicalWeight:   cfg.Retrieval.LexicalWeight,
		RecencyWeight:   cfg.Retrieval.RecencyWeight,
		RecencyHalfLife: cfg.Retrieval.RecencyHalfLife,
		CandidatePool:   cfg.Retrieval.CandidatePool,
		RerankPool:      cfg.Retrieval.RerankPool,
		DefaultLimit:    cfg.Retrieval.DefaultLimit,
	}, st, embedder, reranker, m, log)

	engine := chat.New(chat.Config{
		MaxIterations:     cfg.Chat.MaxIterations,
		MaxIterationsCap:  cfg.Chat.MaxIterationsCap,
		HistoryMessages:   cfg.Chat.HistoryMessages,
		ToolResultMaxSize: cfg.Chat.ToolResultMaxSize,
		StaleAfter:        cfg.Chat.StaleAfter,
	}, st, searcher, generator, driveClient, dispatcher, m, log)

	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, st, engine, dispatcher, promhttp.Handler(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sync.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")
		return server.Shutdown(context.Background())
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.Error(context.Background(), "daemon exited", zap.Error(err))
		return err
	}
	log.Info(context.Background(), "shutdown complete")
	return nil
}
