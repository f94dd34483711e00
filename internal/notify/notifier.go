// Package notify implements the escalation sinks. Each adapter delivers to
// the recipients that have an address for its medium; the manager fans one
// escalation out across every configured adapter.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/guardbook/guardbook/internal/schema"
)

// Manager fans an escalation out to all configured adapters. A recipient
// without an address for a given medium is skipped silently; a failing
// adapter is logged and does not block the others. Send fails only when
// every adapter failed, so one broken gateway never suppresses escalations
// entirely.
type Manager struct {
	adapters []schema.Notifier
}

// NewManager builds a fan-out over the given adapters.
func NewManager(adapters ...schema.Notifier) *Manager {
	return &Manager{adapters: adapters}
}

func (m *Manager) Send(ctx context.Context, subject, body string, to []schema.Recipient) error {
	if len(m.adapters) == 0 {
		slog.Warn("notify: no adapters configured, dropping escalation", "subject", subject)
		return nil
	}
	failed := 0
	for _, a := range m.adapters {
		if err := a.Send(ctx, subject, body, to); err != nil {
			slog.Error("notify: adapter send failed", "adapter", fmt.Sprintf("%T", a), "err", err)
			failed++
		}
	}
	if failed == len(m.adapters) {
		return fmt.Errorf("notify: all %d adapters failed", failed)
	}
	return nil
}

var _ schema.Notifier = (*Manager)(nil)
