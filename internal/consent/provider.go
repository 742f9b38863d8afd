// Package consent holds the current tracking consent and notifies
// subscribers when it changes.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rumspool/internal/batching"
	"rumspool/internal/domain"
	"rumspool/internal/logging"
)

// Store persists consent across restarts.
type Store interface {
	Load(ctx context.Context) (domain.Consent, bool, error)
	Save(ctx context.Context, c domain.Consent) error
}

var ErrInvalidConsent = errors.New("invalid consent")

type subscription struct {
	cb batching.ConsentCallback
}

// Provider is the single source of the current consent. Callbacks run
// synchronously on the goroutine calling SetConsent, outside the provider's
// lock, in registration order.
type Provider struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	consent domain.Consent
	subs    []*subscription
	// update serializes SetConsent so subscribers see transitions in order.
	update sync.Mutex
}

// NewProvider returns a provider seeded from store when it holds a value,
// otherwise from initial. store may be nil.
func NewProvider(ctx context.Context, initial domain.Consent, store Store, logger *slog.Logger) (*Provider, error) {
	if !initial.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConsent, initial)
	}
	p := &Provider{
		store:   store,
		logger:  logging.OrDiscard(logger).With(logging.Component("consent")),
		consent: initial,
	}
	if store == nil {
		return p, nil
	}
	stored, ok, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persisted consent: %w", err)
	}
	if ok {
		p.consent = stored
	}
	return p, nil
}

func (p *Provider) Consent() domain.Consent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consent
}

// SetConsent persists c and, when it differs from the current value, runs
// every callback with the transition. If any callback fails, the previous
// value is restored and re-persisted so that a later SetConsent(c) runs the
// transition again. Callback failures are returned joined.
func (p *Provider) SetConsent(ctx context.Context, c domain.Consent) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidConsent, c)
	}
	p.update.Lock()
	defer p.update.Unlock()

	if err := p.save(ctx, c); err != nil {
		return err
	}
	previous := p.Consent()
	if previous == c {
		return nil
	}

	p.mu.Lock()
	p.consent = c
	subs := append([]*subscription(nil), p.subs...)
	p.mu.Unlock()
	p.logger.Info("consent updated", "previous", previous.String(), "next", c.String())

	var errs []error
	for _, s := range subs {
		if err := s.cb.OnConsentUpdated(previous, c); err != nil {
			p.logger.Error("consent callback failed", "previous", previous.String(), "next", c.String(), "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	p.mu.Lock()
	p.consent = previous
	p.mu.Unlock()
	p.logger.Warn("consent rolled back", "consent", previous.String(), "rejected", c.String())
	if err := p.save(ctx, previous); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Provider) save(ctx context.Context, c domain.Consent) error {
	if p.store == nil {
		return nil
	}
	if err := p.store.Save(ctx, c); err != nil {
		return fmt.Errorf("persist consent: %w", err)
	}
	return nil
}

// RegisterCallback subscribes cb to consent changes until the returned
// function is called.
func (p *Provider) RegisterCallback(cb batching.ConsentCallback) func() {
	s := &subscription{cb: cb}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, cur := range p.subs {
				if cur == s {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

var _ batching.ConsentProvider = (*Provider)(nil)
