package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gregdel/pushover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus-crane/billboard/config"
	"github.com/marcus-crane/billboard/player"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []*pushover.Message
	err      error
}

func (f *fakeSender) SendMessage(m *pushover.Message, r *pushover.Recipient) (*pushover.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	if f.err != nil {
		return nil, f.err
	}
	return &pushover.Response{Status: 1}, nil
}

func (f *fakeSender) Titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var titles []string
	for _, m := range f.messages {
		titles = append(titles, m.Title)
	}
	return titles
}

func TestNewPushover_DisabledWithoutToken(t *testing.T) {
	assert.Nil(t, NewPushover(config.PushoverConfig{}, "tv-1"))
	assert.Nil(t, NewPushover(config.PushoverConfig{Token: "abc"}, "tv-1"))
	assert.NotNil(t, NewPushover(config.PushoverConfig{Token: "abc", Recipient: "u123"}, "tv-1"))
}

func TestPushover_AlertsOnDropAndRecovery(t *testing.T) {
	sender := &fakeSender{}
	p := NewPushoverWithSender(sender, "u123", "tv-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// startup transitions are not worth an alert
	p.OnState(player.StateConnecting, player.StateNoContent, player.ReasonNotConfigured)
	p.OnState(player.StateNoContent, player.StatePlaying, player.ReasonNone)
	p.OnState(player.StatePlaying, player.StateNoContent, player.ReasonEmpty)
	p.OnState(player.StateNoContent, player.StateNoContent, player.ReasonUnavailable)
	p.OnState(player.StateNoContent, player.StatePlaying, player.ReasonNone)

	require.Eventually(t, func() bool { return len(sender.Titles()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"Billboard tv-1 has nothing to show",
		"Billboard tv-1 recovered",
	}, sender.Titles())

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Contains(t, sender.messages[0].Message, "no playable slides")
}

func TestPushover_SendFailureKeepsRunning(t *testing.T) {
	sender := &fakeSender{err: errors.New("pushover is down")}
	p := NewPushoverWithSender(sender, "u123", "tv-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.OnState(player.StatePlaying, player.StateNoContent, player.ReasonUnavailable)
	p.OnState(player.StateNoContent, player.StatePlaying, player.ReasonNone)
	require.Eventually(t, func() bool { return len(sender.Titles()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPushover_FullQueueDrops(t *testing.T) {
	p := NewPushoverWithSender(&fakeSender{}, "u123", "tv-1")
	for i := 0; i < 20; i++ {
		p.OnState(player.StatePlaying, player.StateNoContent, player.ReasonEmpty)
	}
	assert.Len(t, p.queue, cap(p.queue))
}
