package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const tunnelStopGrace = 5 * time.Second

// lockedBuffer is a Writer safe to read while the child is still writing.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// execTunnel runs the system ssh binary with a local forward, the same
// invocation an operator would type.
type execTunnel struct {
	spec   TunnelSpec
	cmd    *exec.Cmd
	errBuf lockedBuffer
	waitCh chan error
}

// execTunnelArgs builds the ssh argument list: no remote command, compression
// on, the forward itself, then destination.
func execTunnelArgs(spec TunnelSpec) []string {
	args := []string{
		"-N",
		"-C",
		"-L", fmt.Sprintf("%d:%s:%d", spec.LocalPort, spec.RemoteHost, spec.RemotePort),
		"-p", strconv.Itoa(spec.SSHPort),
	}
	if spec.PrivateKeyPath != "" {
		args = append(args, "-i", spec.PrivateKeyPath)
	}
	dest := spec.SSHHost
	if spec.SSHUser != "" {
		dest = spec.SSHUser + "@" + dest
	}
	return append(args, dest)
}

func (t *execTunnel) start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "ssh", execTunnelArgs(t.spec)...)
	cmd.Stderr = &t.errBuf
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ssh: %w", err)
	}
	t.cmd = cmd
	t.waitCh = make(chan error, 1)
	go func() {
		t.waitCh <- cmd.Wait()
		close(t.waitCh)
	}()
	return nil
}

// done delivers the child's exit. The channel is closed after the status is
// sent, so stop can still drain it when the readiness wait consumed the value.
func (t *execTunnel) done() <-chan error { return t.waitCh }

// stop terminates the child, waiting a bounded time before force-killing.
// The ssh exit status after a deliberate signal carries no information and is
// discarded.
func (t *execTunnel) stop() error {
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	t.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-t.waitCh:
	case <-time.After(tunnelStopGrace):
		t.cmd.Process.Kill()
		<-t.waitCh
	}
	return nil
}

func (t *execTunnel) stderr() string { return t.errBuf.String() }
