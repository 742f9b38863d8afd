package batching

import (
	"log/slog"
	"sync"

	"rumspool/internal/domain"
	"rumspool/internal/logging"
	"rumspool/internal/storage"
)

// Processor accepts events from producers and persists them off the caller's
// goroutine.
type Processor[T any] interface {
	Consume(event T)
	ConsumeBatch(events []T)
	// Flush blocks until every event consumed before the call is written.
	Flush()
	// Close drains queued writes and stops the processor.
	Close()
}

// WriterProcessor runs writes on one background worker in submission order.
// The queue is unbounded so producers never wait on disk I/O.
type WriterProcessor[T any] struct {
	writer storage.Writer[T]
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewProcessor[T any](writer storage.Writer[T], logger *slog.Logger) *WriterProcessor[T] {
	p := &WriterProcessor[T]{
		writer: writer,
		logger: logging.OrDiscard(logger),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *WriterProcessor[T]) Consume(event T) {
	if !p.submit(func() { p.writer.Write(event) }) {
		p.logger.Warn("processor closed, dropping event")
	}
}

func (p *WriterProcessor[T]) ConsumeBatch(events []T) {
	if len(events) == 0 {
		return
	}
	events = append([]T(nil), events...)
	if !p.submit(func() { p.writer.WriteBatch(events) }) {
		p.logger.Warn("processor closed, dropping events", "count", len(events))
	}
}

func (p *WriterProcessor[T]) Flush() {
	barrier := make(chan struct{})
	if !p.submit(func() { close(barrier) }) {
		// Closed processors have nothing left to run.
		<-p.done
		return
	}
	<-barrier
}

func (p *WriterProcessor[T]) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	<-p.done
}

func (p *WriterProcessor[T]) submit(task func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.signal()
	return true
}

func (p *WriterProcessor[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *WriterProcessor[T]) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		tasks, closed := p.queue, p.closed
		p.queue = nil
		p.mu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-p.wake
	}
}

// NoOpProcessor discards everything it is given.
type NoOpProcessor[T any] struct{}

func (NoOpProcessor[T]) Consume(T) {}
func (NoOpProcessor[T]) ConsumeBatch([]T) {}
func (NoOpProcessor[T]) Flush() {}
func (NoOpProcessor[T]) Close() {}

// ProcessorFactory picks the processor that matches a consent value.
type ProcessorFactory[T any] interface {
	ResolveProcessor(consent domain.Consent) Processor[T]
}

// ConsentProcessorFactory routes granted events to Granted, pending events to
// Pending, and drops the rest.
type ConsentProcessorFactory[T any] struct {
	Granted storage.Writer[T]
	Pending storage.Writer[T]
	Logger  *slog.Logger
}

func (f ConsentProcessorFactory[T]) ResolveProcessor(consent domain.Consent) Processor[T] {
	logger := logging.OrDiscard(f.Logger).With("consent", consent.String())
	switch consent {
	case domain.ConsentGranted:
		return NewProcessor(f.Granted, logger)
	case domain.ConsentPending:
		return NewProcessor(f.Pending, logger)
	default:
		return NoOpProcessor[T]{}
	}
}

var (
	_ Processor[string] = (*WriterProcessor[string])(nil)
	_ Processor[string] = NoOpProcessor[string]{}
)
