package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

type tunnelState int

const (
	tunnelPending tunnelState = iota
	tunnelEstablishing
	tunnelReady
	tunnelClosing
	tunnelClosed
	tunnelFailed
)

func (s tunnelState) String() string {
	switch s {
	case tunnelPending:
		return "pending"
	case tunnelEstablishing:
		return "establishing"
	case tunnelReady:
		return "ready"
	case tunnelClosing:
		return "closing"
	case tunnelClosed:
		return "closed"
	case tunnelFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// tunnelDriver is the transport under a Tunnel: either an ssh child process
// or an in-process forwarder over a crypto/ssh client.
type tunnelDriver interface {
	start(ctx context.Context) error
	stop() error
	// stderr returns diagnostic output captured from the driver, if any.
	stderr() string
	// done reports the transport dying on its own. May return nil when the
	// transport has no independent lifetime to watch.
	done() <-chan error
}

// Tunnel is one established (or establishing) SSH local forward.
type Tunnel struct {
	spec   TunnelSpec
	driver tunnelDriver

	mu    sync.Mutex
	state tunnelState

	closeOnce sync.Once
	closeErr  error
}

func (t *Tunnel) setState(s tunnelState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// State returns the tunnel's current lifecycle state.
func (t *Tunnel) State() tunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ready reports whether the tunnel is accepting connections.
func (t *Tunnel) Ready() bool { return t.State() == tunnelReady }

// LocalPort returns the loopback port this tunnel forwards from.
func (t *Tunnel) LocalPort() int { return t.spec.LocalPort }

// newTunnelDriver picks the transport for a spec. Password auth needs the
// in-process crypto/ssh client: the ssh binary has no non-interactive way to
// take a password. Everything else goes through the system ssh, which honors
// the operator's ssh config, agent, and known_hosts.
func newTunnelDriver(spec TunnelSpec) tunnelDriver {
	if spec.SSHPassword != "" && spec.PrivateKeyPath == "" {
		return &nativeTunnel{spec: spec}
	}
	return &execTunnel{spec: spec}
}

// openTunnel establishes the forward described by spec and waits until the
// local port accepts TCP connections. On timeout the underlying transport is
// torn down and a TunnelError is returned.
func openTunnel(ctx context.Context, spec TunnelSpec, readyTimeout time.Duration, verbose bool) (*Tunnel, error) {
	t := &Tunnel{spec: spec, state: tunnelPending, driver: newTunnelDriver(spec)}

	if verbose {
		log.Printf("  forwarding 127.0.0.1:%d -> %s:%d via %s:%d",
			spec.LocalPort, spec.RemoteHost, spec.RemotePort, spec.SSHHost, spec.SSHPort)
	}

	t.setState(tunnelEstablishing)
	if err := t.driver.start(ctx); err != nil {
		t.setState(tunnelFailed)
		return nil, &TunnelError{SSHHost: spec.SSHHost, Stderr: t.driver.stderr(), Err: err}
	}

	if err := waitPortReady(ctx, spec.LocalPort, readyTimeout, t.driver.done()); err != nil {
		t.driver.stop()
		t.setState(tunnelFailed)
		return nil, &TunnelError{SSHHost: spec.SSHHost, Stderr: t.driver.stderr(), Err: err}
	}

	t.setState(tunnelReady)
	return t, nil
}

// Close tears the tunnel down. Idempotent, and safe on a tunnel that never
// reached ready.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.setState(tunnelClosing)
		t.closeErr = t.driver.stop()
		t.setState(tunnelClosed)
	})
	return t.closeErr
}

// waitPortReady polls until a TCP connection to 127.0.0.1:port succeeds. A
// value on exited means the transport died mid-wait; the failure surfaces
// immediately instead of after the full timeout.
func waitPortReady(ctx context.Context, port int, timeout time.Duration, exited <-chan error) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case werr := <-exited:
			if werr != nil {
				return fmt.Errorf("ssh exited before the forward came up: %w", werr)
			}
			return fmt.Errorf("ssh exited before the forward came up")
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("local port %d not accepting connections after %s", port, timeout)
		}
	}
}
