package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai-hq/server/internal/event"
	"github.com/ai-hq/server/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Delivery fault reasons.
const (
	faultNotOpen    = "not_open"
	faultQueueFull  = "queue_full"
	faultWriteError = "write_error"
)

// Subscriber is one live websocket observer. All writes to its connection go
// through writePump.
type Subscriber struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	open   atomic.Bool
	once   sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func (s *Subscriber) ID() string {
	return s.id
}

// Open reports whether the subscriber can still accept deliveries.
func (s *Subscriber) Open() bool {
	return s.open.Load()
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		s.open.Store(false)
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.ObserveDeliveryFault(faultWriteError)
				s.logger.Warn("ws write failed", "subscriber", s.id, "remote", s.remote, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ws ping failed", "subscriber", s.id, "error", err)
				return
			}
		}
	}
}

func (s *Subscriber) stop() {
	s.once.Do(func() {
		s.open.Store(false)
		close(s.done)
	})
}

// enqueue hands msg to the write pump without blocking. It reports the fault
// reason when the message was not queued.
func (s *Subscriber) enqueue(msg []byte) (string, bool) {
	if !s.open.Load() {
		return faultNotOpen, false
	}
	select {
	case <-s.done:
		return faultNotOpen, false
	default:
	}
	select {
	case s.send <- msg:
		return "", true
	default:
		return faultQueueFull, false
	}
}

// ErrRegistryClosed is returned by Register once Close has been called.
var ErrRegistryClosed = errors.New("registry closed")

type RegistryOptions struct {
	Buffer       int
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Registry tracks the live subscriber set and fans events out to it.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	closed      bool
	opts        RegistryOptions
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Buffer < 1 {
		opts.Buffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		subscribers: make(map[*Subscriber]struct{}),
		opts:        opts,
	}
}

// Register adds conn to the set and queues the connected acknowledgment as
// its first message. After Close it closes conn and returns ErrRegistryClosed.
func (r *Registry) Register(conn *websocket.Conn) (*Subscriber, error) {
	s := &Subscriber{
		id:           uuid.NewString(),
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		send:         make(chan []byte, r.opts.Buffer),
		done:         make(chan struct{}),
		writeTimeout: r.opts.WriteTimeout,
		pingInterval: r.opts.PingInterval,
		logger:       r.opts.Logger,
	}
	s.open.Store(true)

	ack, _ := json.Marshal(event.Connected())
	s.send <- ack

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return nil, ErrRegistryClosed
	}
	r.subscribers[s] = struct{}{}
	metrics.SetSubscribers(len(r.subscribers))
	r.mu.Unlock()

	go s.writePump()
	return s, nil
}

// Unregister removes s and stops its write pump. Unknown subscribers are
// ignored.
func (r *Registry) Unregister(s *Subscriber) {
	r.mu.Lock()
	_, ok := r.subscribers[s]
	if ok {
		delete(r.subscribers, s)
		metrics.SetSubscribers(len(r.subscribers))
	}
	r.mu.Unlock()

	if ok {
		s.stop()
	}
}

// Broadcast serializes e once and queues it for every open subscriber.
// Subscribers that are closed or backed up miss this message but stay
// registered; only Unregister removes them.
func (r *Registry) Broadcast(e event.Event) {
	// Sent as submitted, without json.Marshal's HTML escaping.
	data, err := e.MarshalJSON()
	if err != nil {
		r.opts.Logger.Error("broadcast marshal error", "error", err)
		return
	}

	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subscribers))
	for s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	for _, s := range subs {
		reason, ok := s.enqueue(data)
		if !ok {
			metrics.ObserveDeliveryFault(reason)
			if reason == faultQueueFull {
				r.opts.Logger.Warn("ws subscriber too slow, dropping event",
					"subscriber", s.id, "remote", s.remote, "type", e.Type)
			}
			continue
		}
		metrics.ObserveDelivery()
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Close unregisters every subscriber, sending each a close frame, and refuses
// later registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	subs := r.subscribers
	r.subscribers = make(map[*Subscriber]struct{})
	r.closed = true
	metrics.SetSubscribers(0)
	r.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}
