// Package policy defines functions that control which connections are
// accepted, and how aggressively new connections are dialed. Allow functions
// filter inbound connections on the listener side; Timeout functions bound
// dial attempts on the agent side. Both are plain functions built to be
// composed, so small pieces of filtering or pacing logic can be stacked into
// more interesting behavior.
package policy

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a connection is dropped because its
// IP-address has attempted to connect too many times too quickly.
var ErrRateLimited = errors.New("rate limited")

// ErrMaxConnsExceeded is returned when a connection is dropped because the
// maximum number of concurrent connections has been reached.
var ErrMaxConnsExceeded = errors.New("max connections exceeded")

// Allow is a function that filters connections. If an error is returned, the
// connection is rejected and closed. Otherwise it is kept, and the returned
// Cleanup (if any) is called after the connection eventually closes.
type Allow func(net.Conn) (error, Cleanup)

// Cleanup reverses per-connection state mutations made by an Allow function.
type Cleanup func()

// All returns an Allow function that passes a connection only if every Allow
// function in the set passes. Evaluation is lazy; the first rejection wins.
func All(fs ...Allow) Allow {
	return func(conn net.Conn) (error, Cleanup) {
		cleanups := make([]Cleanup, 0, len(fs))
		cleanup := func() {
			for _, f := range cleanups {
				f()
			}
		}
		for _, f := range fs {
			err, c := f(conn)
			if c != nil {
				cleanups = append(cleanups, c)
			}
			if err != nil {
				return err, cleanup
			}
		}
		return nil, cleanup
	}
}

// Max returns an Allow function that rejects connections once n are already
// open. Slots are returned by the Cleanup when connections close.
func Max(n int64) Allow {
	conns := int64(0)
	return func(net.Conn) (error, Cleanup) {
		if atomic.AddInt64(&conns, 1) > n {
			atomic.AddInt64(&conns, -1)
			return ErrMaxConnsExceeded, nil
		}
		return nil, func() { atomic.AddInt64(&conns, -1) }
	}
}

// RateLimit returns an Allow function that rejects an IP-address when it
// attempts too many connections too quickly. At most cap addresses are
// tracked; when the capacity is reached, the oldest generation of limiters is
// dropped.
func RateLimit(r rate.Limit, burst, cap int) Allow {
	cap /= 2
	mu := new(sync.Mutex)
	front := make(map[string]*rate.Limiter, cap)
	back := make(map[string]*rate.Limiter, cap)

	return func(conn net.Conn) (error, Cleanup) {
		addr := ""
		if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			addr = tcpAddr.IP.String()
		} else {
			addr = conn.RemoteAddr().String()
		}

		mu.Lock()
		defer mu.Unlock()

		limiter, ok := front[addr]
		if !ok {
			limiter, ok = back[addr]
		}
		if !ok {
			if len(front) >= cap {
				back = front
				front = make(map[string]*rate.Limiter, cap)
			}
			limiter = rate.NewLimiter(r, burst)
			front[addr] = limiter
		}
		if !limiter.Allow() {
			return ErrRateLimited, nil
		}
		return nil, nil
	}
}
