// Package transport implements the unreliable channel that carries envelopes
// between a stub and a service.
//
// A Channel wraps one TCP connection and moves whole envelopes, one frame each.
// It can be told to misbehave: a lossy channel silently drops some outgoing
// messages and a delayed channel sleeps a random interval around every send and
// receive. Callers above it (the stub's retry loop) are expected to cope.
//
//	stub ──Send(req)──▶ [delay?] [drop?] ──frame──▶ TCP ──▶ Recv ──▶ service
//	stub ◀──Recv────── TCP ◀──frame── [drop?] [delay?] ◀──Send(resp)── service
package transport

import (
	"context"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/sizestr"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"remoteobj/codec"
	"remoteobj/message"
	"remoteobj/protocol"
)

const (
	DefaultMaxDelay    = 100 * time.Millisecond
	DefaultReadTimeout = 2 * time.Second
	DefaultDialTimeout = 5 * time.Second
)

// ErrUnframable is returned by Send for values that are not envelopes.
const ErrUnframable = errors.ConstError("message cannot be framed")

// Options configures a Channel. The zero value is a reliable JSON channel.
type Options struct {
	Lossy   bool // drop some outgoing messages
	Delayed bool // sleep up to MaxDelay around sends and receives

	Loss     Sampler       // default RandomLoss(DefaultLossRate)
	MaxDelay time.Duration // default DefaultMaxDelay

	// ReadTimeout bounds each Recv. Zero means DefaultReadTimeout on a lossy
	// channel and no deadline otherwise; a negative value disables it.
	ReadTimeout time.Duration
	DialTimeout time.Duration // default DefaultDialTimeout

	Codec  codec.CodecType // envelope codec for outgoing requests
	Logger *zap.Logger
	Clock  clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Loss == nil {
		o.Loss = RandomLoss(DefaultLossRate)
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.ReadTimeout == 0 && o.Lossy {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.L().Named("transport")
	}
	if o.Clock == nil {
		o.Clock = clock.WallClock
	}
	return o
}

// Channel is a message-oriented wrapper over one TCP connection. A Channel is
// used by one goroutine at a time; only Close may be called concurrently.
type Channel struct {
	conn   net.Conn
	opts   Options
	logger *zap.Logger

	codec codec.CodecType // codec for the next Send; adopts the peer's on Recv
	seq   uint32

	sent     atomic.Int64
	received atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, addr string, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newChannel(conn, opts), nil
}

// Accept wraps a connection obtained from a listener.
func Accept(conn net.Conn, opts Options) *Channel {
	return newChannel(conn, opts.withDefaults())
}

func newChannel(conn net.Conn, opts Options) *Channel {
	return &Channel{
		conn:   conn,
		opts:   opts,
		codec:  opts.Codec,
		logger: opts.Logger.With(zap.Stringer("remote", conn.RemoteAddr())),
	}
}

// SetSeq sets the sequence number stamped on outgoing requests. Responses echo
// the sequence of the last request received.
func (c *Channel) SetSeq(seq uint32) {
	c.seq = seq
}

// Codec reports the envelope codec the channel currently sends with.
func (c *Channel) Codec() codec.CodecType {
	return c.codec
}

// RemoteAddr returns the peer's address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send transmits one envelope. It reports false with a nil error when a lossy
// channel chose to drop the message; nothing reaches the wire in that case.
func (c *Channel) Send(msg any) (bool, error) {
	var msgType protocol.MsgType
	switch msg.(type) {
	case *message.InvocationRequest:
		msgType = protocol.MsgTypeRequest
	case *message.InvocationResponse:
		msgType = protocol.MsgTypeResponse
	default:
		return false, errors.Annotatef(ErrUnframable, "%T", msg)
	}

	c.delay()
	if c.opts.Lossy && c.opts.Loss.Drop() {
		c.logger.Debug("dropped outgoing message", zap.Stringer("type", msgType), zap.Uint32("seq", c.seq))
		return false, nil
	}

	body, err := codec.GetCodec(c.codec).Encode(msg)
	if err != nil {
		return false, errors.Annotatef(err, "encoding %s", msgType)
	}
	header := protocol.Header{
		CodecType: byte(c.codec),
		MsgType:   msgType,
		Seq:       c.seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(c.conn, &header, body); err != nil {
		return false, errors.Trace(err)
	}
	c.sent.Add(int64(protocol.HeaderSize + len(body)))
	return true, nil
}

// Recv blocks for one envelope and returns it as *message.InvocationRequest or
// *message.InvocationResponse.
func (c *Channel) Recv() (any, error) {
	if c.opts.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(c.opts.Clock.Now().Add(c.opts.ReadTimeout)); err != nil {
			return nil, errors.Trace(err)
		}
	}
	header, body, err := protocol.Decode(c.conn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.received.Add(int64(protocol.HeaderSize + len(body)))

	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	var msg any
	switch header.MsgType {
	case protocol.MsgTypeRequest:
		req := &message.InvocationRequest{}
		if err := cdc.Decode(body, req); err != nil {
			return nil, errors.Annotate(err, "decoding request")
		}
		req.Codec = header.CodecType
		msg = req
	case protocol.MsgTypeResponse:
		resp := &message.InvocationResponse{}
		if err := cdc.Decode(body, resp); err != nil {
			return nil, errors.Annotate(err, "decoding response")
		}
		msg = resp
	}
	c.codec = codec.CodecType(header.CodecType)
	c.seq = header.Seq

	c.delay()
	return msg, nil
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		c.logger.Debug("channel closed",
			zap.String("sent", sizestr.ToString(c.sent.Load())),
			zap.String("received", sizestr.ToString(c.received.Load())),
		)
	})
	return c.closeErr
}

func (c *Channel) delay() {
	if !c.opts.Delayed {
		return
	}
	d := time.Duration(rand.Int64N(int64(c.opts.MaxDelay) + 1))
	<-c.opts.Clock.After(d)
}
