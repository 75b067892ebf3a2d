package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/classifier"
	"github.com/mfenderov/feedfilter/internal/config"
	"github.com/mfenderov/feedfilter/internal/coord"
	"github.com/mfenderov/feedfilter/internal/elasticsearch"
	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/mfenderov/feedfilter/internal/llm"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/mfenderov/feedfilter/internal/settings"
	"github.com/mfenderov/feedfilter/internal/storage"
)

// app holds the clients every command shares.
type app struct {
	cfg      config.Config
	store    kvstore.Store
	bus      *bus.Bus
	llm      *llm.Client
	settings *settings.Service
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	llmClient, err := llm.New(llm.Config{
		Endpoint:    cfg.LLM.Endpoint,
		ModelsURL:   cfg.LLM.ModelsURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	b := bus.New()
	return &app{
		cfg:      cfg,
		store:    store,
		bus:      b,
		llm:      llmClient,
		settings: settings.New(store, b, llmClient),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStore opens the durable backend selected by store.backend.
func openStore(ctx context.Context, cfg config.Config) (kvstore.Store, error) {
	switch cfg.Store.Backend {
	case "", "sqlite":
		store, err := kvstore.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return store, nil
	case "s3":
		client, err := storage.New(storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			Prefix:          cfg.Store.Prefix,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UseSSL:          cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket: %w", err)
		}
		return client, nil
	case "memory":
		return kvstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// direct classifies in this process.
func (a *app) direct() (*pipeline.Direct, error) {
	cls, err := classifier.New(classifier.Config{
		BatchSize:   a.cfg.Classifier.BatchSize,
		MaxAttempts: a.cfg.Classifier.MaxAttempts,
		RetryDelay:  a.cfg.Classifier.RetryDelay,
		BatchDelay:  a.cfg.Classifier.BatchDelay,
		Timeout:     a.cfg.Classifier.Timeout,
	}, a.llm)
	if err != nil {
		return nil, err
	}
	return &pipeline.Direct{Classifier: cls, Client: a.llm}, nil
}

// archive returns the classification archive, or nil when disabled.
func (a *app) archive(ctx context.Context) (*elasticsearch.Client, error) {
	if !a.cfg.Elasticsearch.Enabled {
		return nil, nil
	}
	client, err := elasticsearch.New(elasticsearch.Config{
		Addresses: a.cfg.Elasticsearch.Addresses,
		Index:     a.cfg.Elasticsearch.Index,
		Username:  a.cfg.Elasticsearch.Username,
		Password:  a.cfg.Elasticsearch.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}
	if err := client.CreateIndex(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// settingsSource applies the configured API key override.
func (a *app) settingsSource() pipeline.Settings {
	if a.cfg.LLM.APIKey == "" {
		return a.settings
	}
	return keyOverride{Settings: a.settings, key: a.cfg.LLM.APIKey}
}

type keyOverride struct {
	pipeline.Settings
	key string
}

func (k keyOverride) Load(ctx context.Context) (settings.Snapshot, error) {
	snap, err := k.Settings.Load(ctx)
	snap.APIKey = k.key
	return snap, err
}

// feed wires a pipeline for doc. Classification requests go over the bus to
// a background handler, the same path the feed and background contexts use.
func (a *app) feed(ctx context.Context, doc *platform.Document, host string) (*pipeline.Pipeline, error) {
	if host == "" {
		host = a.cfg.Platform.Host
	}
	adapter, err := platform.ForHost(host, doc)
	if err != nil {
		return nil, err
	}

	direct, err := a.direct()
	if err != nil {
		return nil, err
	}
	bg := &coord.Background{Settings: a.settings, Classifier: direct}
	bg.Register(a.bus)

	c := cache.New(a.store)
	n, err := c.Load(ctx)
	if err != nil {
		slog.Warn("failed to load classification cache", "error", err)
	}
	slog.Debug("classification cache loaded", "entries", n)

	archive, err := a.archive(ctx)
	if err != nil {
		return nil, err
	}
	var arch pipeline.Archive
	if archive != nil {
		arch = archive
	}

	return pipeline.New(pipeline.Config{
		Adapter:       adapter,
		Settings:      a.settingsSource(),
		Classifier:    &pipeline.Remote{Bus: a.bus},
		Cache:         c,
		Archive:       arch,
		MaxIDAttempts: a.cfg.Scanner.MaxIDAttempts,
	})
}
