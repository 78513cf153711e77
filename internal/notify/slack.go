package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/podweave/podweave/internal/bus"
)

// SlackConfig configures the Slack sink. WebhookURL wins over Token+Channel.
type SlackConfig struct {
	WebhookURL string
	Token      string
	Channel    string
	APIBase    string
}

// SlackSink posts one line per event to Slack.
type SlackSink struct {
	webhookURL string
	client     *slack.Client
	channel    string
}

// NewSlackSink creates a Slack sink from cfg.
func NewSlackSink(cfg SlackConfig) (*SlackSink, error) {
	if cfg.WebhookURL != "" {
		return &SlackSink{webhookURL: cfg.WebhookURL}, nil
	}
	if cfg.Token == "" || cfg.Channel == "" {
		return nil, fmt.Errorf("slack sink needs a webhook url or a token and channel")
	}
	opts := []slack.Option{}
	if cfg.APIBase != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(cfg.APIBase, "/")+"/"))
	}
	return &SlackSink{client: slack.New(cfg.Token, opts...), channel: cfg.Channel}, nil
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, ev *bus.Event) error {
	text := FormatText(ev)
	if s.webhookURL != "" {
		return slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text})
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	return err
}

func (s *SlackSink) Close() error { return nil }

// FormatText renders an event as a single human-readable line.
func FormatText(ev *bus.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ev.CanvasID, ev.Type)
	switch {
	case ev.SourceID != "" && ev.TargetID != "":
		fmt.Fprintf(&b, " %s -> %s", ev.SourceID, ev.TargetID)
	case ev.PodID != "":
		fmt.Fprintf(&b, " %s", ev.PodID)
	case ev.SourceID != "":
		fmt.Fprintf(&b, " %s", ev.SourceID)
	}
	if len(ev.PodIDs) > 0 {
		fmt.Fprintf(&b, " pods=%s", strings.Join(ev.PodIDs, ","))
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, ": %s", ev.Reason)
	}
	return b.String()
}
