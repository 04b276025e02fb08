package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/socialgraph/cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config tunes PubSubNotifier.
type Config struct {
	Timeout         time.Duration // per publish
	BreakerFailures uint32        // consecutive failures before the breaker opens
	BreakerCooldown time.Duration // open → half-open
}

// PubSubNotifier publishes events as JSON on the receiver's pub/sub channel.
// A circuit breaker stops publish attempts while the broker is down so that
// notification goroutines do not pile up behind the timeout.
type PubSubNotifier struct {
	ps      cache.PubSub
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewPubSubNotifier creates a PubSubNotifier.
func NewPubSubNotifier(ps cache.PubSub, cfg Config, logger *zap.Logger) *PubSubNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	n := &PubSubNotifier{ps: ps, timeout: cfg.Timeout, logger: logger}
	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notify-publish",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notification breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return n
}

// Notify publishes ev in the background.
func (n *PubSubNotifier) Notify(ev Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.publish(ev); err != nil {
			n.logger.Warn("notification dropped",
				zap.String("type", string(ev.Type)),
				zap.Int64("receiver_id", ev.ReceiverID),
				zap.Error(err))
		}
	}()
}

func (n *PubSubNotifier) publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.ps.Publish(ctx, Channel(ev.ReceiverID), string(data))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.New("notify: publisher unavailable (circuit open)")
	}
	return err
}

// Wait blocks until all in-flight publishes have finished.
func (n *PubSubNotifier) Wait() {
	n.wg.Wait()
}

// BreakerState reports the circuit breaker state ("closed", "open", "half-open").
func (n *PubSubNotifier) BreakerState() string {
	return n.breaker.State().String()
}
