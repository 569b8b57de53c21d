// Package notify tells an operator when a display stops showing slides.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gregdel/pushover"

	"github.com/marcus-crane/billboard/config"
	"github.com/marcus-crane/billboard/player"
)

type Sender interface {
	SendMessage(message *pushover.Message, recipient *pushover.Recipient) (*pushover.Response, error)
}

// Pushover alerts when playback drops to NoContent and again when it
// recovers. Alerts are queued so the playback goroutine never waits on
// the network; if the queue is full the alert is dropped.
type Pushover struct {
	DeviceID string

	sender    Sender
	recipient *pushover.Recipient
	queue     chan *pushover.Message

	// alerted is only touched from the listener, which runs on the
	// playback goroutine.
	alerted bool
}

// NewPushover returns nil when no token or recipient is configured.
func NewPushover(cfg config.PushoverConfig, deviceID string) *Pushover {
	if cfg.Token == "" || cfg.Recipient == "" {
		return nil
	}
	return NewPushoverWithSender(pushover.New(cfg.Token), cfg.Recipient, deviceID)
}

func NewPushoverWithSender(sender Sender, recipient, deviceID string) *Pushover {
	return &Pushover{
		DeviceID:  deviceID,
		sender:    sender,
		recipient: pushover.NewRecipient(recipient),
		queue:     make(chan *pushover.Message, 8),
	}
}

func describe(reason player.Reason) string {
	switch reason {
	case player.ReasonNotConfigured:
		return "its playlist document is missing or unreadable"
	case player.ReasonUnavailable:
		return "the content server is unreachable"
	case player.ReasonEmpty:
		return "its playlist has no playable slides"
	}
	return "there is nothing to play"
}

// OnState is a player.StateListener.
func (p *Pushover) OnState(from, to player.State, reason player.Reason) {
	switch {
	case from == player.StatePlaying && to == player.StateNoContent:
		p.alerted = true
		p.enqueue(pushover.NewMessageWithTitle(
			fmt.Sprintf("Display %s stopped showing slides because %s.", p.DeviceID, describe(reason)),
			fmt.Sprintf("Billboard %s has nothing to show", p.DeviceID),
		))
	case to == player.StatePlaying && p.alerted:
		p.alerted = false
		p.enqueue(pushover.NewMessageWithTitle(
			fmt.Sprintf("Display %s is showing slides again.", p.DeviceID),
			fmt.Sprintf("Billboard %s recovered", p.DeviceID),
		))
	}
}

func (p *Pushover) enqueue(m *pushover.Message) {
	select {
	case p.queue <- m:
	default:
		slog.Warn("Notification queue is full, dropping alert", slog.String("title", m.Title))
	}
}

// Run sends queued alerts until ctx is done.
func (p *Pushover) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.queue:
			if _, err := p.sender.SendMessage(m, p.recipient); err != nil {
				slog.Warn("Failed to send notification",
					slog.String("title", m.Title),
					slog.String("error", err.Error()))
				continue
			}
			slog.Info("Sent notification", slog.String("title", m.Title))
		}
	}
}
