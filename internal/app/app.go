package app

import (
	"context"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/beaconkb/beacon/internal/api/handlers"
	"github.com/beaconkb/beacon/internal/config"
	"github.com/beaconkb/beacon/internal/core"
	"github.com/beaconkb/beacon/internal/core/blobstore"
	"github.com/beaconkb/beacon/internal/core/chunker"
	"github.com/beaconkb/beacon/internal/core/database"
	"github.com/beaconkb/beacon/internal/core/extract"
	"github.com/beaconkb/beacon/internal/core/index"
	"github.com/beaconkb/beacon/internal/core/lifecycle"
	"github.com/beaconkb/beacon/internal/core/llm"
)

type App struct {
	Store    *database.DocumentStore
	Blobs    *blobstore.Store
	Manager  *lifecycle.Manager
	Server   *Server
	embedder *llm.GeminiEmbedder
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := database.NewDocumentStore(initCtx, cfg)
	if err != nil {
		return nil, err
	}

	blobs := blobstore.NewStore(initCtx, cfg.Storage)

	extractor := extract.New(blobs, extract.NewPageFetcher(nil))
	ch := chunker.New(cfg.ChunkSize, chunker.NewTokenCounter())

	// Indexing is optional: without an embedding key, completed documents
	// keep their chunk metadata but are not pushed to the vector store.
	var (
		indexer  core.ChunkIndexer
		embedder *llm.GeminiEmbedder
	)
	if cfg.AIAPIKey != "" {
		embedder, err = llm.NewGeminiEmbedder(initCtx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initialize embedder: %w", err)
		}
		indexer = index.New(store, embedder)
	} else {
		log.Info().Msg("no embedding key configured, chunk indexing disabled")
	}

	manager, err := lifecycle.NewManager(
		store, extractor, ch, indexer, cfg.Workers,
		lifecycle.WithTimeout(cfg.ProcessTimeout),
		lifecycle.WithRecoveryDelay(cfg.RecoveryDelay),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	// Re-run anything a previous run left mid-pipeline.
	go manager.RecoverStuck(ctx)

	docHandler := handlers.NewDocumentHandler(store, blobs, manager, cfg)
	server := NewServer(cfg, docHandler)

	return &App{Store: store, Blobs: blobs, Manager: manager, Server: server, embedder: embedder}, nil
}

func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
