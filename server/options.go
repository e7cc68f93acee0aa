package server

import (
	"net"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"remoteobj/transport"
)

// DefaultStopTimeout bounds how long Stop waits for the accept loop to exit.
const DefaultStopTimeout = time.Second

// Hooks lets the owner of a Service observe and steer its failures. Nil
// fields take the defaults: AcceptError gives up, the others do nothing.
type Hooks struct {
	// AcceptError is called when accepting a connection fails while the
	// service is running. Returning true keeps the accept loop going;
	// returning false stops the service.
	AcceptError func(err error) bool

	// DispatchError is called when a response could not be sent back.
	DispatchError func(err error)

	// Stopped is called every time the service stops, with the accept error
	// that caused it or nil for an explicit Stop.
	Stopped func(cause error)
}

func (h Hooks) acceptError(err error) bool {
	if h.AcceptError == nil {
		return false
	}
	return h.AcceptError(err)
}

func (h Hooks) dispatchError(err error) {
	if h.DispatchError != nil {
		h.DispatchError(err)
	}
}

func (h Hooks) stopped(cause error) {
	if h.Stopped != nil {
		h.Stopped(cause)
	}
}

type options struct {
	host        string
	lossy       bool
	delayed     bool
	transport   transport.Options
	hooks       Hooks
	logger      *zap.Logger
	clock       clock.Clock
	maxWorkers  int64
	stopTimeout time.Duration
	listen      ListenFunc
}

// ListenFunc opens the service's listener. net.Listen is the default.
type ListenFunc func(network, address string) (net.Listener, error)

// Option configures a Service.
type Option func(*options)

// Lossy makes every accepted channel drop some of its outgoing responses.
func Lossy(lossy bool) Option {
	return func(o *options) { o.lossy = lossy }
}

// Delayed makes every accepted channel sleep a random interval around each
// receive and send.
func Delayed(delayed bool) Option {
	return func(o *options) { o.delayed = delayed }
}

// WithHost sets the interface to listen on. The default is all interfaces.
func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

func WithHooks(h Hooks) Option {
	return func(o *options) { o.hooks = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTransport sets the options accepted channels are created with. Lossy
// and Delayed are ORed with the flags set here.
func WithTransport(t transport.Options) Option {
	return func(o *options) { o.transport = t }
}

// WithMaxWorkers caps the number of connections served at once. Further
// connections wait in the listen backlog. Zero means no cap.
func WithMaxWorkers(n int) Option {
	return func(o *options) { o.maxWorkers = int64(n) }
}

func WithStopTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// WithListen replaces net.Listen, e.g. to wrap the listener.
func WithListen(fn ListenFunc) Option {
	return func(o *options) { o.listen = fn }
}

func newOptions(opts []Option) options {
	o := options{
		logger:      zap.L().Named("server"),
		clock:       clock.WallClock,
		stopTimeout: DefaultStopTimeout,
		listen:      net.Listen,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.listen == nil {
		o.listen = net.Listen
	}
	o.transport.Lossy = o.transport.Lossy || o.lossy
	o.transport.Delayed = o.transport.Delayed || o.delayed
	if o.transport.Logger == nil {
		o.transport.Logger = o.logger.Named("transport")
	}
	if o.transport.Clock == nil {
		o.transport.Clock = o.clock
	}
	return o
}
