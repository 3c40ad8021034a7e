// Package memory records notifications in process memory. It backs tests and
// deployments without a message broker.
package memory

import (
	"context"
	"slices"
	"sync"

	"rua/pkg/domain"
)

// Publisher keeps every delivered notification in order.
type Publisher struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

// New returns an empty publisher.
func New() *Publisher { return &Publisher{} }

// Notify records n, or returns the configured failure.
func (p *Publisher) Notify(_ context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	n.Recipients = slices.Clone(n.Recipients)
	p.sent = append(p.sent, n)
	return nil
}

// Sent returns a copy of the delivered notifications.
func (p *Publisher) Sent() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// FailWith makes subsequent deliveries fail with err; nil restores delivery.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}
