// Package notify posts finished analysis runs to chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/review"
)

// Poster is the part of *slack.Client the notifier uses.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackOptions configure a Slack notifier.
type SlackOptions struct {
	ChannelID string
	// Enabled is checked per event; nil means always on.
	Enabled func() bool
	Timeout time.Duration
	Logger  *zap.Logger
}

// Slack posts a summary of each finished run to a channel.
type Slack struct {
	api  Poster
	opts SlackOptions
	log  *zap.Logger
}

// NewSlack creates a notifier. Use slack.New(token) for api.
func NewSlack(api Poster, opts SlackOptions) *Slack {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Slack{api: api, opts: opts, log: log}
}

// Attach subscribes the notifier to the analysis channel.
func (s *Slack) Attach(b *broadcast.Broadcaster) (unsubscribe func()) {
	return b.Subscribe(broadcast.ChannelAnalysis, s.Handle, broadcast.WithName("slack"))
}

// Handle posts terminal run events and ignores everything else.
func (s *Slack) Handle(m broadcast.Message) error {
	e, ok := m.Payload.(pipeline.Event)
	if !ok || !e.Status.Terminal() {
		return nil
	}
	if s.opts.Enabled != nil && !s.opts.Enabled() {
		return nil
	}
	if s.opts.ChannelID == "" {
		return errors.New("slack channel not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, s.opts.ChannelID, slack.MsgOptionText(FormatMessage(e), false))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	s.log.Debug("slack notification sent", zap.String("runId", e.RunID), zap.String("status", string(e.Status)))
	return nil
}

// FormatMessage renders the chat text for a terminal event.
func FormatMessage(e pipeline.Event) string {
	target := "diff"
	if e.PR.Valid() {
		target = e.PR.String()
	}
	if e.Status == pipeline.StatusFailed {
		msg := e.Error
		if msg == "" {
			msg = pipeline.FallbackError
		}
		return fmt.Sprintf(":x: Analiz başarısız (%s): %s", target, msg)
	}
	sum := review.ComputeSummary(e.Findings)
	if sum.Total == 0 {
		return fmt.Sprintf(":white_check_mark: Analiz tamamlandı (%s): sorun bulunamadı", target)
	}
	return fmt.Sprintf(":mag: Analiz tamamlandı (%s): %d bulgu, %d kritik hata, %d öneri",
		target, sum.Total, sum.CriticalBugs, sum.StyleSuggestions)
}
