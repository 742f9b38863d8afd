// Package batching gates event ingestion on tracking consent and moves
// stored batches between consent directories when consent changes.
package batching

import (
	"fmt"
	"log/slog"
	"sync"

	"rumspool/internal/domain"
	"rumspool/internal/logging"
)

type ConsentCallback interface {
	OnConsentUpdated(previous, next domain.Consent) error
}

// ConsentProvider must not hold its own locks while running callbacks.
type ConsentProvider interface {
	Consent() domain.Consent
	RegisterCallback(cb ConsentCallback) (unregister func())
}

// ConsentAwareHandler forwards events to the processor matching the current
// consent. Consumption and consent changes are mutually exclusive, so no
// event is written while stored data is being migrated.
type ConsentAwareHandler[T any] struct {
	processors ProcessorFactory[T]
	migrators  MigratorFactory
	logger     *slog.Logger

	mu         sync.Mutex
	consent    domain.Consent
	processor  Processor[T]
	unregister func()
	closed     bool
}

// NewConsentAwareHandler subscribes to provider and runs the startup
// migration from unset to the current consent before returning.
func NewConsentAwareHandler[T any](provider ConsentProvider, processors ProcessorFactory[T], migrators MigratorFactory, logger *slog.Logger) (*ConsentAwareHandler[T], error) {
	h := &ConsentAwareHandler[T]{
		processors: processors,
		migrators:  migrators,
		logger:     logging.OrDiscard(logger).With(logging.Component("consent_handler")),
		processor:  NoOpProcessor[T]{},
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregister = provider.RegisterCallback(h)
	current := provider.Consent()
	if err := h.migrateLocked(domain.ConsentUnset, current); err != nil {
		h.unregister()
		return nil, err
	}
	return h, nil
}

func (h *ConsentAwareHandler[T]) Consume(event T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processor.Consume(event)
}

func (h *ConsentAwareHandler[T]) ConsumeBatch(events []T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processor.ConsumeBatch(events)
}

// Consent returns the consent the active processor was resolved for.
func (h *ConsentAwareHandler[T]) Consent() domain.Consent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consent
}

// OnConsentUpdated drains the active processor, migrates stored data and
// swaps in the processor for next. On migration failure the previous
// processor stays active.
func (h *ConsentAwareHandler[T]) OnConsentUpdated(previous, next domain.Consent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.processor.Flush()
	return h.migrateLocked(previous, next)
}

func (h *ConsentAwareHandler[T]) migrateLocked(previous, next domain.Consent) error {
	if err := h.migrators.ResolveMigrator(previous, next).MigrateData(); err != nil {
		h.logger.Error("consent migration failed", "previous", previous.String(), "next", next.String(), "err", err)
		return fmt.Errorf("migrate %s -> %s: %w", previous, next, err)
	}
	retired := h.processor
	h.processor = h.processors.ResolveProcessor(next)
	h.consent = next
	retired.Close()
	h.logger.Info("consent applied", "previous", previous.String(), "next", next.String())
	return nil
}

// Close unsubscribes and drains the active processor.
func (h *ConsentAwareHandler[T]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	unregister := h.unregister
	h.mu.Unlock()

	unregister()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.processor.Close()
}

var _ ConsentCallback = (*ConsentAwareHandler[string])(nil)
