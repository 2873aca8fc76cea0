package tunnel

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"bootstrapctl/pkg/logging"
)

// DefaultSettle is the wait applied after the forwarding process starts. The
// forwarder needs time to bind its local port before traffic can flow; this is
// a fixed delay, not a polled readiness check.
const DefaultSettle = 3 * time.Second

// Spec describes a single port-forward to a cluster-internal service.
type Spec struct {
	// Namespace is the Kubernetes namespace of the target.
	Namespace string
	// Target is the forward target, e.g. "svc/vault" or "pod/vault-0".
	Target string
	// LocalPort is the port bound on localhost.
	LocalPort int
	// RemotePort is the port on the target.
	RemotePort int
	// Settle overrides DefaultSettle when non-zero. Critical targets that are
	// slow to accept connections (e.g. the CI controller) use a longer wait.
	Settle time.Duration
}

// LocalAddr returns the localhost address traffic should be sent to while the
// tunnel is open.
func (s Spec) LocalAddr() string {
	return fmt.Sprintf("localhost:%d", s.LocalPort)
}

// Tunnel is a live background forwarding process. It is owned exclusively by
// the orchestration step that opened it and must be closed before that step's
// scope exits, on every exit path.
type Tunnel struct {
	spec Spec
	cmd  *exec.Cmd
	done chan error

	closeOnce sync.Once
	closeErr  error
}

// Spec returns the spec the tunnel was opened with.
func (t *Tunnel) Spec() Spec { return t.spec }

// Manager opens port-forward tunnels via a kubectl subprocess.
type Manager struct {
	// Kubectl is the forwarder binary. Defaults to "kubectl".
	Kubectl string
}

// newForwardCommand builds the forwarding process. Package-level var so tests
// can substitute a harmless long-running command.
var newForwardCommand = func(ctx context.Context, kubectl string, spec Spec) *exec.Cmd {
	return exec.CommandContext(ctx, kubectl,
		"port-forward",
		"-n", spec.Namespace,
		spec.Target,
		fmt.Sprintf("%d:%d", spec.LocalPort, spec.RemotePort),
	)
}

// Open starts the forwarding process and waits the settle delay before
// returning a live handle. If the process dies before settling (bad target,
// port already bound) Open reaps it and returns the failure.
func (m *Manager) Open(ctx context.Context, spec Spec) (*Tunnel, error) {
	kubectl := m.Kubectl
	if kubectl == "" {
		kubectl = "kubectl"
	}
	settle := spec.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	logging.Debug("tunnel", "Starting port-forward to %s/%s (%d:%d)",
		spec.Namespace, spec.Target, spec.LocalPort, spec.RemotePort)

	cmd := newForwardCommand(ctx, kubectl, spec)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start port-forward to %s/%s: %w", spec.Namespace, spec.Target, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	// Wait for the forwarder to bind. An early exit here means the forward
	// could never have worked, so surface it instead of returning a dead handle.
	settleTimer := time.NewTimer(settle)
	defer settleTimer.Stop()
	select {
	case <-settleTimer.C:
	case err := <-done:
		return nil, fmt.Errorf("port-forward to %s/%s exited before settling: %w", spec.Namespace, spec.Target, err)
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		<-done
		return nil, ctx.Err()
	}

	return &Tunnel{spec: spec, cmd: cmd, done: done}, nil
}

// Close terminates the forwarding process and blocks until it exits. It is
// safe to call more than once; only the first call does the work.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		logging.Debug("tunnel", "Stopping port-forward to %s/%s", t.spec.Namespace, t.spec.Target)
		if t.cmd.Process != nil {
			if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				// SIGTERM can fail if the process is already gone; fall back
				// to a hard kill and let Wait sort out the state.
				_ = t.cmd.Process.Kill()
			}
		}
		<-t.done
	})
	return t.closeErr
}
