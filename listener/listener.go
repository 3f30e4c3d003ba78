// Package listener implements the operator side of the channel: it accepts
// connections from agents and drives an interactive prompt against each one,
// sealing commands before they leave and opening outputs as they return.
package listener

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sable-sec/loom/codec"
	"github.com/sable-sec/loom/policy"
	"github.com/sable-sec/loom/secret"
	"github.com/sable-sec/loom/tcp"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = uint16(4444)
	DefaultMaxConns       = int64(128)
	DefaultRateLimit      = rate.Limit(1.0)
	DefaultRateLimitBurst = 10
)

// A Prompt supplies operator commands for a session and displays what the
// session returns. ReadCommand blocks until the operator enters a command;
// the remote address identifies which session is asking.
type Prompt interface {
	ReadCommand(remote string) (string, error)
	Print(output string)
}

type Options struct {
	Logger         *zap.Logger
	Host           string
	Port           uint16
	MaxConns       int64
	RateLimit      rate.Limit
	RateLimitBurst int
	MaxFrameLen    uint32
}

func DefaultOptions() Options {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return Options{
		Logger:         logger,
		Host:           DefaultHost,
		Port:           DefaultPort,
		MaxConns:       DefaultMaxConns,
		RateLimit:      DefaultRateLimit,
		RateLimitBurst: DefaultRateLimitBurst,
		MaxFrameLen:    codec.DefaultMaxFrameLen,
	}
}

// WithLogger sets the logger that will be used by the listener.
func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

// WithHost sets the host address that will be used for listening.
func (opts Options) WithHost(host string) Options {
	opts.Host = host
	return opts
}

// WithPort sets the port that will be used for listening.
func (opts Options) WithPort(port uint16) Options {
	opts.Port = port
	return opts
}

// WithMaxConns sets the maximum number of concurrently connected agents.
func (opts Options) WithMaxConns(maxConns int64) Options {
	opts.MaxConns = maxConns
	return opts
}

type Listener struct {
	opts   Options
	key    secret.Key
	prompt Prompt
}

// New returns a Listener that drives the prompt against every agent that
// connects, with all traffic sealed under the key.
func New(opts Options, key secret.Key, prompt Prompt) *Listener {
	return &Listener{
		opts:   opts,
		key:    key,
		prompt: prompt,
	}
}

// Listen binds to the configured host and port and accepts agents until the
// context is done. The session key is printed at startup so an operator can
// copy it into agent configuration. A bind failure is returned; everything
// after the bind only ever terminates single sessions.
func (listener *Listener) Listen(ctx context.Context) error {
	l, err := new(net.ListenConfig).Listen(ctx, "tcp", fmt.Sprintf("%v:%v", listener.opts.Host, listener.opts.Port))
	if err != nil {
		return fmt.Errorf("listening on %v:%v: %v", listener.opts.Host, listener.opts.Port, err)
	}
	return listener.Serve(ctx, l)
}

// Serve accepts agents from an existing net.Listener until the context is
// done.
func (listener *Listener) Serve(ctx context.Context, l net.Listener) error {
	listener.opts.Logger.Info(
		"listening",
		zap.String("address", l.Addr().String()))
	listener.opts.Logger.Info(
		"session key",
		zap.String("key", listener.key.String()))

	allow := policy.All(
		policy.Max(listener.opts.MaxConns),
		policy.RateLimit(listener.opts.RateLimit, listener.opts.RateLimitBurst, 65535))

	return tcp.ListenWithListener(
		ctx,
		l,
		func(conn net.Conn) {
			listener.handle(ctx, conn)
		},
		func(err error) {
			listener.opts.Logger.Error("listener", zap.Error(err))
		},
		allow)
}

// handle drives one session: read an operator command, seal and send it, wait
// for one sealed output, open and print it. The literal "exit" ends the
// session without telling the agent; the agent sees EOF when the connection
// closes underneath it. Any transport or crypto failure ends this session and
// no other.
func (listener *Listener) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := listener.opts.Logger.With(zap.String("remote", remote))
	logger.Info("agent connected")
	defer logger.Info("agent disconnected")

	// Unblock any in-flight read when the listener is shut down.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		if ctx.Err() != nil {
			conn.Close()
		}
	}()

	session, err := codec.NewGCMSession(listener.key)
	if err != nil {
		logger.Error("creating session", zap.Error(err))
		return
	}
	enc := codec.GCMEncoder(session, codec.LengthPrefixEncoder(codec.PlainEncoder, listener.opts.MaxFrameLen))
	dec := codec.GCMDecoder(session, codec.LengthPrefixDecoder(codec.PlainDecoder, listener.opts.MaxFrameLen))

	buf := make([]byte, listener.opts.MaxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		command, err := listener.prompt.ReadCommand(remote)
		if err != nil {
			if err != io.EOF {
				logger.Error("reading command", zap.Error(err))
			}
			return
		}
		if strings.EqualFold(strings.TrimSpace(command), "exit") {
			return
		}

		if _, err := enc(conn, []byte(command)); err != nil {
			logger.Error("sending command", zap.Error(err))
			return
		}
		n, err := dec(conn, buf)
		if err != nil {
			if err == io.EOF {
				logger.Info("connection closed by agent")
			} else {
				logger.Error("receiving output", zap.Error(err))
			}
			return
		}
		listener.prompt.Print(string(buf[:n]))
	}
}
