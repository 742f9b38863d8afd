// Package pipeline assembles the consent store, provider, batch directories
// and handler for RUM events from one Config.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"rumspool/internal/batching"
	"rumspool/internal/config"
	"rumspool/internal/consent"
	"rumspool/internal/logging"
	"rumspool/internal/rum"
	"rumspool/internal/storage/file"
	"rumspool/internal/storage/sqlite"
)

const (
	GrantedDirName = "granted"
	PendingDirName = "pending"
)

type Pipeline struct {
	Provider *consent.Provider
	Handler  *batching.ConsentAwareHandler[rum.Event]
	Granted  *file.Orchestrator
	Pending  *file.Orchestrator
	Store    *sqlite.ConsentStore

	logger *slog.Logger
}

// Open builds the pipeline and runs the startup consent migration.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	logger = logging.OrDiscard(logger)
	initial, err := cfg.InitialConsent()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = p.closeStore()
		}
	}()

	var store consent.Store
	if cfg.Consent.StorePath != "" {
		if p.Store, err = sqlite.Open(cfg.Consent.StorePath); err != nil {
			return nil, err
		}
		store = p.Store
	}
	if p.Provider, err = consent.NewProvider(ctx, initial, store, logger); err != nil {
		return nil, err
	}

	grantedDir := filepath.Join(cfg.Storage.RootDir, GrantedDirName)
	pendingDir := filepath.Join(cfg.Storage.RootDir, PendingDirName)
	opts := func(dir string) file.Options {
		return file.Options{
			Dir:              dir,
			MaxBatchSize:     cfg.Batch.MaxSizeBytes,
			MaxItemsPerBatch: cfg.Batch.MaxItems,
			RecentDelay:      cfg.Batch.RecentDelay,
		}
	}
	if p.Granted, err = file.NewOrchestrator(opts(grantedDir), logger.With(logging.Component("granted_files"))); err != nil {
		return nil, err
	}
	if p.Pending, err = file.NewOrchestrator(opts(pendingDir), logger.With(logging.Component("pending_files"))); err != nil {
		return nil, err
	}

	serializer := rum.NewSerializer(rum.NewDataConstraints(logger))
	writerLogger := logger.With(logging.Component("writer"))
	processors := batching.ConsentProcessorFactory[rum.Event]{
		Granted: file.NewWriter[rum.Event](p.Granted, serializer, writerLogger),
		Pending: file.NewWriter[rum.Event](p.Pending, serializer, writerLogger),
		Logger:  logger.With(logging.Component("processor")),
	}
	migrators := batching.ConsentMigratorFactory{PendingDir: pendingDir, GrantedDir: grantedDir}

	if p.Handler, err = batching.NewConsentAwareHandler[rum.Event](p.Provider, processors, migrators, logger); err != nil {
		return nil, fmt.Errorf("start consent handler: %w", err)
	}
	ok = true
	return p, nil
}

// Reader returns a reader over the uploadable (granted) batches.
func (p *Pipeline) Reader() *file.Reader {
	return file.NewReader(p.Granted, p.Granted.Dir(), p.logger.With(logging.Component("reader")))
}

// Close drains queued writes and releases the consent store.
func (p *Pipeline) Close() error {
	p.Handler.Close()
	return p.closeStore()
}

func (p *Pipeline) closeStore() error {
	if p.Store == nil {
		return nil
	}
	err := p.Store.Close()
	p.Store = nil
	if err != nil {
		return fmt.Errorf("close consent store: %w", err)
	}
	return nil
}
