package client

import (
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"remoteobj/codec"
	"remoteobj/transport"
)

// DefaultBackoff is the pause after a request was lost before it is resent.
const DefaultBackoff = time.Second

type options struct {
	lossy     bool
	delayed   bool
	codec     codec.CodecType
	transport transport.Options
	backoff    time.Duration
	maxBackoff time.Duration
	logger    *zap.Logger
	clock     clock.Clock
}

// Option configures a Stub.
type Option func(*options)

// Lossy makes the stub's channels drop some outgoing requests.
func Lossy(lossy bool) Option {
	return func(o *options) { o.lossy = lossy }
}

// Delayed makes the stub's channels sleep a random interval around each send
// and receive.
func Delayed(delayed bool) Option {
	return func(o *options) { o.delayed = delayed }
}

// WithCodec selects the envelope codec. Values inside the envelope use the
// matching value codec.
func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codec = t }
}

// WithTransport sets the options every attempt's channel is dialed with.
// Lossy, Delayed and WithCodec still apply on top.
func WithTransport(t transport.Options) Option {
	return func(o *options) { o.transport = t }
}

// WithBackoff sets the pause after a lost request.
func WithBackoff(d time.Duration) Option {
	return func(o *options) { o.backoff = d }
}

// WithMaxBackoff lets the pause double after each lost request of a call, up
// to d. By default it stays at the WithBackoff value.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *options) { o.maxBackoff = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func newOptions(opts []Option) options {
	o := options{
		backoff: DefaultBackoff,
		logger:  zap.L().Named("client"),
		clock:   clock.WallClock,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxBackoff < o.backoff {
		o.maxBackoff = o.backoff
	}
	o.transport.Lossy = o.transport.Lossy || o.lossy
	o.transport.Delayed = o.transport.Delayed || o.delayed
	o.transport.Codec = o.codec
	if o.transport.Logger == nil {
		o.transport.Logger = o.logger.Named("transport")
	}
	if o.transport.Clock == nil {
		o.transport.Clock = o.clock
	}
	return o
}
