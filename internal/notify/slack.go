// Package notify delivers surfaced findings to humans.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/metalagman/steward/internal/model"
)

// Poster is the subset of the slack client used for delivery.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts surfaced findings to one channel.
type Slack struct {
	client  Poster
	channel string
}

// NewSlack creates a notifier. apiURL overrides the Slack API base when set.
func NewSlack(token, channel, apiURL string) *Slack {
	opts := []slack.Option{}
	if base := strings.TrimSpace(apiURL); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	return &Slack{client: slack.New(token, opts...), channel: channel}
}

// NewSlackWithPoster wraps an existing client.
func NewSlackWithPoster(p Poster, channel string) *Slack {
	return &Slack{client: p, channel: channel}
}

// NotifyCycle posts one message per surfaced finding of c. Every finding is
// attempted; failures are joined.
func (s *Slack) NotifyCycle(ctx context.Context, c model.Cycle) error {
	var errs []error
	for _, sf := range c.Surfaced {
		if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(Format(sf), false)); err != nil {
			errs = append(errs, fmt.Errorf("post finding of %s: %w", sf.Agent, err))
			continue
		}
		log.Debug().Str("cycle_id", c.ID).Str("agent", sf.Agent).Str("channel", s.channel).Msg("finding delivered")
	}
	return errors.Join(errs...)
}

// Format renders a surfaced finding as Slack mrkdwn.
func Format(sf model.ScoredFinding) string {
	f := sf.Finding
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s _(%s, salience %.2f)_", strings.ToUpper(string(f.Urgency)), f.Summary, sf.Agent, sf.Salience)
	if f.Detail != "" {
		b.WriteString("\n")
		b.WriteString(f.Detail)
	}
	if f.SuggestedAction != "" {
		b.WriteString("\n> Suggested: ")
		b.WriteString(f.SuggestedAction)
	}
	if f.RequiresHuman {
		b.WriteString("\n:raising_hand: needs a human decision")
	}
	return b.String()
}
