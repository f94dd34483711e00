package notify

import (
	"context"
	"fmt"
	"log/slog"

	slackgo "github.com/slack-go/slack"

	"github.com/guardbook/guardbook/internal/config"
	"github.com/guardbook/guardbook/internal/schema"
)

// Slack delivers escalations as direct messages to recipients with a slack id.
type Slack struct {
	client *slackgo.Client
}

// NewSlack creates the slack adapter.
func NewSlack(cfg *config.SlackConfig) *Slack {
	return &Slack{client: slackgo.New(cfg.BotToken)}
}

func (s *Slack) Send(ctx context.Context, subject, body string, to []schema.Recipient) error {
	text := fmt.Sprintf("*%s*\n%s", subject, body)
	sent, failed := 0, 0
	for _, r := range to {
		if r.SlackID == "" {
			continue
		}
		_, _, err := s.client.PostMessageContext(ctx, r.SlackID,
			slackgo.MsgOptionText(text, false))
		if err != nil {
			slog.Error("notify: slack send failed", "to", r.SlackID, "err", err)
			failed++
			continue
		}
		sent++
	}
	if sent == 0 && failed > 0 {
		return fmt.Errorf("slack: all %d sends failed", failed)
	}
	return nil
}

var _ schema.Notifier = (*Slack)(nil)
