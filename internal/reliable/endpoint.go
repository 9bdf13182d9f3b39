// Package reliable adds acknowledgements and bounded retransmission on top of
// an unordered, lossy data channel.
package reliable

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hersh/duotris/internal/logging"
	"github.com/hersh/duotris/internal/protocol"
)

const (
	DefaultResendInterval = 200 * time.Millisecond
	DefaultResendLimit    = 3
	// delivered sequence numbers are remembered this long for dedupe
	dedupeWindow = 30 * time.Second
)

var (
	// ErrDeliveryFailed is passed to the failure callback once every resend
	// of a reliable message went unanswered.
	ErrDeliveryFailed = errors.New("reliable: delivery failed")
	// ErrNoChannel is returned for unreliable sends with no channel attached.
	ErrNoChannel = errors.New("reliable: no channel")
)

// Channel is the raw transport, usually a WebRTC data channel.
type Channel interface {
	Send(data []byte) error
}

// Handler receives a routed frame. A non-nil error means the payload could
// not be used and is counted as a parse error.
type Handler func(f protocol.Frame) error

// FailureFunc is told about a reliable message that was never acknowledged.
type FailureFunc func(t protocol.MessageType, payload any, err error)

type Options struct {
	Codec          protocol.Codec
	ResendInterval time.Duration
	ResendLimit    int
	OnFailure      FailureFunc
	Logger         *zap.Logger
}

type record struct {
	typ      protocol.MessageType
	payload  any
	data     []byte
	attempts int
	next     time.Time
}

// Endpoint numbers reliable messages, acknowledges and dedupes incoming
// ones, and resends until acknowledged or out of attempts. Resends happen
// only from Poll, so the caller decides what time it is.
type Endpoint struct {
	codec    protocol.Codec
	interval time.Duration
	limit    int
	log      *zap.Logger

	mu        sync.Mutex
	ch        Channel
	nextSeq   uint32
	pending   map[uint32]*record
	delivered map[uint32]time.Time
	handlers  map[protocol.MessageType]Handler
	onFailure FailureFunc

	parseErrors atomic.Int64
}

func NewEndpoint(opts Options) *Endpoint {
	if opts.Codec == nil {
		opts.Codec = protocol.JSONCodec{}
	}
	if opts.ResendInterval <= 0 {
		opts.ResendInterval = DefaultResendInterval
	}
	if opts.ResendLimit <= 0 {
		opts.ResendLimit = DefaultResendLimit
	}
	return &Endpoint{
		codec:     opts.Codec,
		interval:  opts.ResendInterval,
		limit:     opts.ResendLimit,
		log:       logging.OrNop(opts.Logger).Named("reliable"),
		pending:   make(map[uint32]*record),
		delivered: make(map[uint32]time.Time),
		handlers:  make(map[protocol.MessageType]Handler),
		onFailure: opts.OnFailure,
	}
}

func (e *Endpoint) Codec() protocol.Codec { return e.codec }

// Attach swaps the underlying channel. nil detaches; pending messages keep
// their schedule and fail over to OnFailure if nothing is attached in time.
func (e *Endpoint) Attach(ch Channel) {
	e.mu.Lock()
	e.ch = ch
	e.mu.Unlock()
}

// Handle registers h for messages of type t.
func (e *Endpoint) Handle(t protocol.MessageType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
}

// Send encodes and transmits a message. Reliable messages get a sequence
// number and are retried from Poll.
func (e *Endpoint) Send(now time.Time, t protocol.MessageType, payload any, reliable bool) error {
	e.mu.Lock()
	if !reliable {
		ch := e.ch
		e.mu.Unlock()
		if ch == nil {
			return ErrNoChannel
		}
		b, err := e.codec.Encode(t, nil, payload)
		if err != nil {
			return err
		}
		return ch.Send(b)
	}

	e.nextSeq++
	seq := e.nextSeq
	b, err := e.codec.Encode(t, &seq, payload)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.pending[seq] = &record{
		typ:      t,
		payload:  payload,
		data:     b,
		attempts: 1,
		next:     now.Add(e.interval),
	}
	ch := e.ch
	e.mu.Unlock()

	if ch != nil {
		if err := ch.Send(b); err != nil {
			e.log.Debug("send failed, will retry", zap.String("type", string(t)), zap.Uint32("seq", seq), zap.Error(err))
		}
	}
	return nil
}

// Receive handles raw bytes from the channel: acks settle pending records,
// reliable messages are acknowledged and delivered at most once, and
// everything else is routed as is. Malformed input is counted and dropped,
// whether the envelope or the payload is at fault. A reliable message with a
// bad payload is still acknowledged, since a resend would carry the same bytes.
func (e *Endpoint) Receive(now time.Time, data []byte) error {
	f, err := e.codec.Decode(data)
	if err != nil {
		e.parseErrors.Add(1)
		e.log.Debug("dropping message", zap.Error(err))
		return err
	}

	if f.Type == protocol.MsgAck {
		if f.HasSeq {
			e.mu.Lock()
			delete(e.pending, f.Seq)
			e.mu.Unlock()
		}
		return nil
	}

	if f.HasSeq {
		e.mu.Lock()
		ch := e.ch
		_, dup := e.delivered[f.Seq]
		if !dup {
			e.delivered[f.Seq] = now
		}
		e.mu.Unlock()

		if ch != nil {
			seq := f.Seq
			if ack, err := e.codec.Encode(protocol.MsgAck, &seq, nil); err == nil {
				_ = ch.Send(ack)
			}
		}
		if dup {
			return nil
		}
	}

	e.mu.Lock()
	h := e.handlers[f.Type]
	e.mu.Unlock()
	if h == nil {
		e.log.Debug("no handler", zap.String("type", string(f.Type)))
		return nil
	}
	if err := h(f); err != nil {
		e.parseErrors.Add(1)
		e.log.Debug("dropping payload", zap.String("type", string(f.Type)), zap.Error(err))
		return fmt.Errorf("reliable: %s payload: %w", f.Type, err)
	}
	return nil
}

// Poll retransmits due messages and fails those out of attempts. A message
// is sent at most limit times, so failure is reported limit*interval after
// the first send.
func (e *Endpoint) Poll(now time.Time) {
	type failure struct {
		typ     protocol.MessageType
		payload any
		seq     uint32
	}
	var (
		resend [][]byte
		failed []failure
	)

	e.mu.Lock()
	ch := e.ch
	for seq, r := range e.pending {
		if now.Before(r.next) {
			continue
		}
		if r.attempts >= e.limit {
			delete(e.pending, seq)
			failed = append(failed, failure{r.typ, r.payload, seq})
			continue
		}
		r.attempts++
		r.next = r.next.Add(e.interval)
		resend = append(resend, r.data)
	}
	for seq, at := range e.delivered {
		if now.Sub(at) > dedupeWindow {
			delete(e.delivered, seq)
		}
	}
	onFailure := e.onFailure
	e.mu.Unlock()

	if ch != nil {
		for _, b := range resend {
			_ = ch.Send(b)
		}
	}
	for _, f := range failed {
		e.log.Info("delivery failed", zap.String("type", string(f.typ)), zap.Uint32("seq", f.seq))
		if onFailure != nil {
			onFailure(f.typ, f.payload, fmt.Errorf("%w: %s #%d", ErrDeliveryFailed, f.typ, f.seq))
		}
	}
}

// Pending is the number of unacknowledged reliable messages.
func (e *Endpoint) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// ParseErrors counts messages dropped because they could not be decoded.
func (e *Endpoint) ParseErrors() int64 {
	return e.parseErrors.Load()
}

// Reset drops unacknowledged messages without reporting failures, for use
// between games. Sequence numbers keep counting so the peer's dedupe set
// stays valid.
func (e *Endpoint) Reset() {
	e.mu.Lock()
	e.pending = make(map[uint32]*record)
	e.mu.Unlock()
}
