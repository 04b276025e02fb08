package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/socialgraph/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "notify:42", Channel(42))
}

func TestPubSubNotifier_DeliversToReceiverChannel(t *testing.T) {
	ps, err := cache.NewPubSub(cache.CacheConfig{})
	require.NoError(t, err)
	ch, cancel, err := ps.Subscribe(context.Background(), Channel(2))
	require.NoError(t, err)
	defer cancel()

	n := NewPubSubNotifier(ps, Config{}, zap.NewNop())
	n.Notify(FriendRequestSent(1, 2, 99))
	n.Wait()

	select {
	case msg := <-ch:
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, EventFriendRequestSent, ev.Type)
		assert.Equal(t, int64(1), ev.SenderID)
		assert.Equal(t, int64(2), ev.ReceiverID)
		assert.Equal(t, int64(99), ev.FriendshipID)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

type failingPubSub struct {
	calls int32
}

func (f *failingPubSub) Publish(context.Context, string, string) error {
	atomic.AddInt32(&f.calls, 1)
	return errors.New("broker down")
}

func (f *failingPubSub) Subscribe(context.Context, ...string) (<-chan *cache.Message, func(), error) {
	return nil, nil, errors.New("broker down")
}

func TestPubSubNotifier_BreakerOpensAfterFailures(t *testing.T) {
	ps := &failingPubSub{}
	n := NewPubSubNotifier(ps, Config{BreakerFailures: 2, BreakerCooldown: time.Minute}, zap.NewNop())

	for i := 0; i < 5; i++ {
		n.Notify(FriendAccepted(1, 2, 3))
		n.Wait()
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&ps.calls), "open breaker must short-circuit publishes")
	assert.Equal(t, "open", n.BreakerState())
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}
	assert.NotPanics(t, func() { n.Notify(FriendAccepted(1, 2, 3)) })
}
