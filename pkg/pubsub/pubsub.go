// Package pubsub carries in-process events such as signup.completed from
// wizard sessions to their consumers.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// channelWrapper wraps a channel with sync.Once for safe closing.
type channelWrapper struct {
	ch        chan []byte
	closeOnce sync.Once
}

func newChannelWrapper(size int) *channelWrapper {
	return &channelWrapper{
		ch: make(chan []byte, size),
	}
}

func (cw *channelWrapper) close() {
	cw.closeOnce.Do(func() {
		close(cw.ch)
	})
}

// Common pubsub errors.
var (
	ErrPubSubClosed = errors.New("pubsub is closed")
	ErrNilHandler   = errors.New("nil handler")
)

// PubSub is the interface for pub/sub implementations.
type PubSub interface {
	// Subscribe adds a handler for a topic.
	Subscribe(topic string, handler func(msg []byte)) (Subscription, error)

	// Publish sends a message to all subscribers of a topic.
	Publish(topic string, msg []byte) error

	// Close shuts down the pubsub system.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Option configures a MemoryPubSub.
type Option func(*MemoryPubSub)

// WithBuffer sets the per-subscriber queue length. Messages published to a
// full queue are dropped.
func WithBuffer(n int) Option {
	return func(ps *MemoryPubSub) {
		if n > 0 {
			ps.buffer = n
		}
	}
}

// WithLogger sets the logger used for dropped messages and handler panics.
func WithLogger(l logging.Logger) Option {
	return func(ps *MemoryPubSub) {
		ps.logger = logging.OrNop(l)
	}
}

// MemoryPubSub is an in-memory pub/sub for a single process.
type MemoryPubSub struct {
	topics map[string]map[string]*channelWrapper
	subs   map[string]*memorySubscription
	buffer int
	logger logging.Logger
	closed bool
	mu     sync.RWMutex
}

// NewMemoryPubSub creates a new in-memory pub/sub.
func NewMemoryPubSub(opts ...Option) *MemoryPubSub {
	ps := &MemoryPubSub{
		topics: make(map[string]map[string]*channelWrapper),
		subs:   make(map[string]*memorySubscription),
		buffer: 256,
		logger: logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Subscribe adds a handler for a topic. Each subscription runs its handler
// on its own goroutine, in publish order.
func (ps *MemoryPubSub) Subscribe(topic string, handler func(msg []byte)) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, ErrPubSubClosed
	}

	if ps.topics[topic] == nil {
		ps.topics[topic] = make(map[string]*channelWrapper)
	}

	subID := uuid.NewString()
	chWrapper := newChannelWrapper(ps.buffer)
	ps.topics[topic][subID] = chWrapper

	ctx, cancel := context.WithCancel(context.Background())

	sub := &memorySubscription{
		id:        subID,
		topic:     topic,
		ps:        ps,
		chWrapper: chWrapper,
		cancel:    cancel,
	}
	ps.subs[subID] = sub

	go sub.run(ctx, handler, ps.logger)

	return sub, nil
}

// Publish sends a message to all subscribers of a topic.
func (ps *MemoryPubSub) Publish(topic string, msg []byte) error {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.closed {
		return ErrPubSubClosed
	}

	subscribers := ps.topics[topic]
	if subscribers == nil {
		return nil
	}

	msgCopy := make([]byte, len(msg))
	copy(msgCopy, msg)

	for subID, chWrapper := range subscribers {
		if sub := ps.subs[subID]; sub != nil && sub.closed.Load() {
			continue
		}

		select {
		case chWrapper.ch <- msgCopy:
		default:
			ps.logger.Warn("pubsub subscriber full, message dropped", logging.String("topic", topic))
		}
	}

	return nil
}

// Close shuts down the pubsub system.
func (ps *MemoryPubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil
	}
	ps.closed = true

	for _, sub := range ps.subs {
		sub.closed.Store(true)
		sub.cancel()
	}
	for _, subscribers := range ps.topics {
		for _, chWrapper := range subscribers {
			chWrapper.close()
		}
	}

	ps.topics = make(map[string]map[string]*channelWrapper)
	ps.subs = make(map[string]*memorySubscription)

	return nil
}

// SubscriberCount returns the number of subscribers for a topic.
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.topics[topic])
}

type memorySubscription struct {
	id        string
	topic     string
	ps        *MemoryPubSub
	chWrapper *channelWrapper
	closed    atomic.Bool
	cancel    context.CancelFunc
}

func (s *memorySubscription) run(ctx context.Context, handler func([]byte), logger logging.Logger) {
	for {
		select {
		case msg, ok := <-s.chWrapper.ch:
			if !ok || s.closed.Load() {
				return
			}
			s.deliver(handler, msg, logger)
		case <-ctx.Done():
			return
		}
	}
}

func (s *memorySubscription) deliver(handler func([]byte), msg []byte, logger logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pubsub handler panic",
				logging.String("topic", s.topic),
				logging.Any("panic", r),
			)
		}
	}()
	handler(msg)
}

// Unsubscribe removes this subscription.
func (s *memorySubscription) Unsubscribe() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.ps.mu.Lock()
	defer s.ps.mu.Unlock()

	if subscribers := s.ps.topics[s.topic]; subscribers != nil {
		delete(subscribers, s.id)
		if len(subscribers) == 0 {
			delete(s.ps.topics, s.topic)
		}
	}
	delete(s.ps.subs, s.id)

	s.chWrapper.close()
	return nil
}

func (s *memorySubscription) Topic() string {
	return s.topic
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ps PubSub, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	return ps.Publish(topic, data)
}

// SubscribeJSON subscribes handler to topic, decoding each message into T.
// Messages that do not decode are logged and skipped.
func SubscribeJSON[T any](ps PubSub, topic string, logger logging.Logger, handler func(T)) (Subscription, error) {
	logger = logging.OrNop(logger)
	return ps.Subscribe(topic, func(msg []byte) {
		var v T
		if err := json.Unmarshal(msg, &v); err != nil {
			logger.Warn("pubsub decode failed", logging.String("topic", topic), logging.Err(err))
			return
		}
		handler(v)
	})
}
