package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/ring"
)

// Channel names used by the server.
const (
	ChannelAnalysis = "analysis"
	ChannelWebhook  = "webhook"
)

// Default sizes.
const (
	DefaultBacklog   = 50
	DefaultQueueSize = 256
)

// Message is one published payload.
type Message struct {
	Channel string
	Payload any
	Seq     uint64
	Time    time.Time
}

// Handler receives messages for one subscriber. Returned errors are logged.
type Handler func(Message) error

// Options configure a Broadcaster.
type Options struct {
	Backlog   int
	QueueSize int
	Logger    *zap.Logger
}

// Stats is a point-in-time view of broadcaster counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Backlog     int    `json:"backlog"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
}

// Broadcaster publishes messages to subscribers. The zero value is not
// usable; call New.
type Broadcaster struct {
	mu      sync.Mutex
	backlog *ring.Buffer[Message]
	subs    map[uint64]*subscriber
	nextID  uint64
	seq     uint64
	closed  bool

	queueSize int
	log       *zap.Logger
	wg        sync.WaitGroup

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

type subscriber struct {
	id      uint64
	name    string
	channel string
	handler Handler
	queue   chan Message
	stop    chan struct{}
	once    sync.Once
}

// New creates a broadcaster.
func New(opts Options) *Broadcaster {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		backlog:   ring.New[Message](opts.Backlog),
		subs:      make(map[uint64]*subscriber),
		queueSize: opts.QueueSize,
		log:       log,
	}
}

// SubscribeOption adjusts a single subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	replay    int
	queueSize int
	name      string
}

// WithReplay delivers up to n backlog messages before live ones.
func WithReplay(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.replay = n }
}

// WithQueueSize overrides the subscriber's queue capacity.
func WithQueueSize(n int) SubscribeOption {
	return func(c *subscribeConfig) { c.queueSize = n }
}

// WithName labels the subscriber in logs.
func WithName(name string) SubscribeOption {
	return func(c *subscribeConfig) { c.name = name }
}

// Broadcast publishes payload on channel and returns the stored message.
// It does not wait for delivery. Publishing after Close is a no-op.
func (b *Broadcaster) Broadcast(channel string, payload any) Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Message{Channel: channel, Payload: payload}
	}

	b.seq++
	msg := Message{Channel: channel, Payload: payload, Seq: b.seq, Time: time.Now().UTC()}

	b.backlog.Push(msg)

	for _, s := range b.subs {
		if !s.matches(channel) {
			continue
		}
		select {
		case s.queue <- msg:
		default:
			b.dropped.Add(1)
			b.log.Warn("subscriber queue full, message dropped",
				zap.String("subscriber", s.name),
				zap.String("channel", channel),
				zap.Uint64("seq", msg.Seq))
		}
	}
	return msg
}

// Subscribe registers handler for messages on channel. An empty channel
// receives every message. The returned function unsubscribes; calling it
// more than once is safe.
func (b *Broadcaster) Subscribe(channel string, handler Handler, opts ...SubscribeOption) func() {
	cfg := subscribeConfig{queueSize: b.queueSize}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = b.queueSize
	}
	if cfg.replay > cfg.queueSize {
		cfg.queueSize = cfg.replay
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	s := &subscriber{
		id:      b.nextID,
		name:    cfg.name,
		channel: channel,
		handler: handler,
		queue:   make(chan Message, cfg.queueSize),
		stop:    make(chan struct{}),
	}
	if s.name == "" {
		s.name = fmt.Sprintf("subscriber-%d", s.id)
	}
	for _, m := range b.tail(channel, cfg.replay) {
		s.queue <- m
	}
	b.subs[s.id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(s)

	return func() {
		b.mu.Lock()
		delete(b.subs, s.id)
		b.mu.Unlock()
		s.once.Do(func() { close(s.stop) })
	}
}

// Recent returns up to n backlog messages on channel, oldest first. An
// empty channel matches all messages.
func (b *Broadcaster) Recent(channel string, n int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tail(channel, n)
}

// Stats returns the current counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	subs, backlog, published := len(b.subs), b.backlog.Len(), b.seq
	b.mu.Unlock()
	return Stats{
		Subscribers: subs,
		Backlog:     backlog,
		Published:   published,
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Failed:      b.failed.Load(),
	}
}

// Close stops accepting messages, lets every subscriber drain its queue,
// and waits for delivery goroutines to exit.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// tail must be called with b.mu held.
func (b *Broadcaster) tail(channel string, n int) []Message {
	if n <= 0 {
		return nil
	}
	var out []Message
	for i := b.backlog.Len() - 1; i >= 0 && len(out) < n; i-- {
		if m := b.backlog.At(i); channel == "" || m.Channel == channel {
			out = append(out, m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (b *Broadcaster) run(s *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case m, ok := <-s.queue:
			if !ok {
				return
			}
			b.deliver(s, m)
		}
	}
}

func (b *Broadcaster) deliver(s *subscriber, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.log.Warn("subscriber panicked",
				zap.String("subscriber", s.name),
				zap.String("channel", m.Channel),
				zap.Any("panic", r))
		}
	}()
	if err := s.handler(m); err != nil {
		b.failed.Add(1)
		b.log.Warn("subscriber failed",
			zap.String("subscriber", s.name),
			zap.String("channel", m.Channel),
			zap.Error(err))
		return
	}
	b.delivered.Add(1)
}

func (s *subscriber) matches(channel string) bool {
	return s.channel == "" || s.channel == channel
}
