// Package tcp provides the raw stream transport under a channel: a listening
// accept loop on one side and a retrying dialer on the other. Both are driven
// by a context and by policy functions; neither knows anything about the
// messages that flow over the connections it hands out.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sable-sec/loom/policy"
)

// Listen for connections until the context is done. The allow function
// controls the acceptance/rejection of connection attempts, and can be used to
// implement maximum connection limits, per-IP rate-limiting, and so on. Every
// accepted connection is handled in its own background goroutine, which also
// cleans the connection up. This function blocks until the context is done.
func Listen(ctx context.Context, address string, handle func(net.Conn), handleErr func(error), allow policy.Allow) error {
	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %v: %v", address, err)
	}
	return ListenWithListener(ctx, listener, handle, handleErr, allow)
}

// ListenWithListener behaves like Listen but accepts from an existing
// listener. The listener will be closed when the context is done.
func ListenWithListener(ctx context.Context, listener net.Listener, handle func(net.Conn), handleErr func(error), allow policy.Allow) error {
	if handle == nil {
		return fmt.Errorf("nil handle function")
	}
	if handleErr == nil {
		handleErr = func(error) {}
	}

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			handleErr(fmt.Errorf("closing listener: %v", err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			handleErr(fmt.Errorf("accepting connection: %v", err))
			continue
		}

		var cleanup policy.Cleanup
		if allow != nil {
			var rejected error
			rejected, cleanup = allow(conn)
			if rejected != nil {
				handleErr(fmt.Errorf("rejecting %v: %v", conn.RemoteAddr(), rejected))
				if cleanup != nil {
					cleanup()
				}
				if err := conn.Close(); err != nil {
					handleErr(fmt.Errorf("closing connection: %v", err))
				}
				continue
			}
		}

		go func() {
			defer func() {
				if err := conn.Close(); err != nil {
					handleErr(fmt.Errorf("closing connection: %v", err))
				}
				if cleanup != nil {
					cleanup()
				}
			}()
			handle(conn)
		}()
	}
}

// ListenerWithAssignedPort binds a listener to an OS-assigned port on the
// given IP, returning the listener and the port. Useful for tests.
func ListenerWithAssignedPort(ctx context.Context, ip net.IP) (net.Listener, int, error) {
	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", fmt.Sprintf("%v:0", ip))
	if err != nil {
		return nil, 0, err
	}
	return listener, listener.Addr().(*net.TCPAddr).Port, nil
}

// Dial a remote address until a connection is established, or until the
// context is done. The timeout function bounds each numbered dial attempt, and
// a failed attempt is not retried before its timeout elapses, so a growing
// timeout paces reconnection. This function blocks until the handle function
// returns, and then cleans the connection up.
func Dial(ctx context.Context, address string, handle func(net.Conn), handleErr func(error), timeout policy.Timeout) error {
	if handle == nil {
		return fmt.Errorf("nil handle function")
	}
	if handleErr == nil {
		handleErr = func(error) {}
	}
	if timeout == nil {
		timeout = policy.ConstantTimeout(time.Second)
	}

	dialer := new(net.Dialer)
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dialCtx, dialCancel := context.WithTimeout(ctx, timeout(attempt))
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		if err != nil {
			handleErr(fmt.Errorf("dialing %v: %v", address, err))
			// Wait out the remainder of the attempt's timeout so failed
			// attempts cannot spin.
			<-dialCtx.Done()
			dialCancel()
			continue
		}
		dialCancel()

		handle(conn)
		if err := conn.Close(); err != nil {
			handleErr(fmt.Errorf("closing connection: %v", err))
		}
		return nil
	}
}
