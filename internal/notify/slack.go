// Package notify delivers engine notifications to participants and the event channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"example.com/sockathon/internal/domain"
)

type messagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts messages through the Slack Web API. Direct messages are
// addressed to the participant's user id, which Slack resolves to their DM channel.
type SlackNotifier struct {
	client messagePoster
}

// NewSlackNotifier constructs a notifier for the bot token. apiURL overrides the
// Slack endpoint when non-empty and must end with a slash.
func NewSlackNotifier(token, apiURL string) *SlackNotifier {
	opts := []slack.Option{}
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackNotifier{client: slack.New(token, opts...)}
}

// Send implements domain.Notifier.
func (n *SlackNotifier) Send(ctx context.Context, target domain.Target, text string) error {
	if target.ID == "" {
		return fmt.Errorf("notify: empty %s target", target.Kind)
	}
	_, _, err := n.client.PostMessageContext(ctx, target.ID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		recordDeliveryFailure(target.Kind)
		return fmt.Errorf("notify %s %s: %w", target.Kind, target.ID, err)
	}
	recordDelivered(target.Kind)
	return nil
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a dry-run notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send implements domain.Notifier.
func (n *LogNotifier) Send(ctx context.Context, target domain.Target, text string) error {
	n.logger.InfoContext(ctx, "notification", "kind", target.Kind, "target", target.ID, "text", text)
	recordDelivered(target.Kind)
	return nil
}
