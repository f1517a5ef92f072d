package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/whosesong/internal/game"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	_ game.Store    = (*GameStore)(nil)
	_ game.Notifier = (*EventBus)(nil)
)

func eventsChannel(code string) string {
	return "game:" + code + ":events"
}

// EventBus fans game events out over Redis pub/sub so every server instance
// can forward them to its own websocket clients.
//
// Publish never blocks the caller and never fails. Events are queued and sent
// in order by a single goroutine over a client that retries failed commands;
// an event that still fails is dropped with a warning.
type EventBus struct {
	rdb    *redis.Client
	pub    *redis.Client
	logger *logrus.Logger

	retries int

	mu      sync.Mutex
	queue   []outgoing
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	pending sync.WaitGroup
}

type outgoing struct {
	code string
	typ  game.GameEventType
	data []byte
}

// NewEventBus subscribes through rdb and publishes through a second client
// with rdb's options, retrying a failed PUBLISH up to retries times with a
// backoff starting at backoff.
func NewEventBus(rdb *redis.Client, logger *logrus.Logger, retries int, backoff time.Duration) *EventBus {
	b := &EventBus{
		rdb:     rdb,
		pub:     redis.NewClient(publishOptions(rdb.Options(), retries, backoff)),
		logger:  logger,
		retries: max(retries, 0),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go b.run()
	return b
}

// publishOptions copies opt with the retry policy of the bus. go-redis reads
// zero as "use the default", so zero retries or backoff map to -1.
func publishOptions(opt *redis.Options, retries int, backoff time.Duration) *redis.Options {
	o := *opt
	o.MaxRetries = -1
	if retries > 0 {
		o.MaxRetries = retries
	}
	o.MinRetryBackoff, o.MaxRetryBackoff = -1, -1
	if backoff > 0 {
		o.MinRetryBackoff = backoff
		o.MaxRetryBackoff = backoff * time.Duration(max(retries, 1))
	}
	return &o
}

// Publish implements game.Notifier.
func (b *EventBus) Publish(_ context.Context, code string, ev game.GameEvent) {
	log := b.logger.WithFields(logrus.Fields{"code": code, "event": ev.Type})
	data, err := game.EncodeEvent(ev)
	if err != nil {
		log.Errorf("dropping event: %v", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Warn("dropping event: bus closed")
		return
	}
	b.queue = append(b.queue, outgoing{code: code, typ: ev.Type, data: data})
	b.pending.Add(1)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *EventBus) run() {
	defer close(b.stopped)
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			<-b.wake
			continue
		}
		next := b.queue[0]
		b.queue[0] = outgoing{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.send(next)
		b.pending.Done()
	}
}

// send publishes one event. The request that produced it has usually
// finished by now, so it runs on its own context.
func (b *EventBus) send(ev outgoing) {
	err := b.pub.Publish(context.Background(), eventsChannel(ev.code), ev.data).Err()
	if err != nil {
		b.logger.WithFields(logrus.Fields{"code": ev.code, "event": ev.typ}).
			Warnf("dropping event after %d attempts: %v", b.retries+1, err)
	}
}

// Wait blocks until every event published so far has been sent or dropped.
func (b *EventBus) Wait() {
	b.pending.Wait()
}

// Close sends what is still queued, then stops the bus and its publish
// client. Events published after Close are dropped.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.stopped
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	<-b.stopped
	return b.pub.Close()
}

// Subscription delivers the encoded events of one game.
type Subscription struct {
	ps *redis.PubSub
	C  <-chan []byte
}

// Subscribe listens on the events channel of a game until ctx is done or the
// subscription is closed. Events published before Subscribe returns are not
// delivered.
func (b *EventBus) Subscribe(ctx context.Context, code string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, eventsChannel(code))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", eventsChannel(code), err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return &Subscription{ps: ps, C: out}, nil
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}
