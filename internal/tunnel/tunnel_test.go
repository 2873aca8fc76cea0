package tunnel

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFakeForwarder swaps the forwarding process for a harmless command and
// restores the real one when the test finishes.
func withFakeForwarder(t *testing.T, name string, args ...string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test relies on POSIX shell utilities")
	}
	original := newForwardCommand
	newForwardCommand = func(ctx context.Context, kubectl string, spec Spec) *exec.Cmd {
		return exec.CommandContext(ctx, name, args...)
	}
	t.Cleanup(func() { newForwardCommand = original })
}

func testSpec() Spec {
	return Spec{
		Namespace:  "vault",
		Target:     "svc/vault",
		LocalPort:  8200,
		RemotePort: 8200,
		Settle:     50 * time.Millisecond,
	}
}

func TestOpenAndClose(t *testing.T) {
	withFakeForwarder(t, "sleep", "60")

	tun, err := (&Manager{}).Open(context.Background(), testSpec())
	require.NoError(t, err)
	require.NotNil(t, tun)

	closed := make(chan error, 1)
	go func() { closed <- tun.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after terminating the forwarder")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	withFakeForwarder(t, "sleep", "60")

	tun, err := (&Manager{}).Open(context.Background(), testSpec())
	require.NoError(t, err)

	require.NoError(t, tun.Close())
	// A second Close must not block or panic.
	require.NoError(t, tun.Close())
}

func TestOpenFailsWhenForwarderDiesBeforeSettling(t *testing.T) {
	withFakeForwarder(t, "sh", "-c", "exit 1")

	tun, err := (&Manager{}).Open(context.Background(), testSpec())
	require.Error(t, err)
	assert.Nil(t, tun)
	assert.Contains(t, err.Error(), "exited before settling")
}

func TestOpenFailsWhenBinaryMissing(t *testing.T) {
	withFakeForwarder(t, "definitely-not-a-real-binary-xyz")

	tun, err := (&Manager{}).Open(context.Background(), testSpec())
	require.Error(t, err)
	assert.Nil(t, tun)
}

func TestOpenHonorsContextCancellation(t *testing.T) {
	withFakeForwarder(t, "sleep", "60")

	ctx, cancel := context.WithCancel(context.Background())
	spec := testSpec()
	spec.Settle = 10 * time.Second

	errCh := make(chan error, 1)
	go func() {
		_, err := (&Manager{}).Open(ctx, spec)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Open did not return after context cancellation")
	}
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "localhost:8200", testSpec().LocalAddr())
}
