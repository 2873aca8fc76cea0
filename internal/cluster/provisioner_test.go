package cluster

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootstrapctl/internal/execx"
)

// fakeRunner returns canned results per command prefix and records every call.
type fakeRunner struct {
	commands []execx.Command
	listOut  string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, cmd execx.Command) (execx.Result, error) {
	f.commands = append(f.commands, cmd)
	if f.err != nil {
		return execx.Result{}, f.err
	}
	if len(cmd.Args) >= 2 && cmd.Args[0] == "cluster" && cmd.Args[1] == "list" {
		return execx.Result{Stdout: f.listOut}, nil
	}
	return execx.Result{}, nil
}

func (f *fakeRunner) commandLines() []string {
	lines := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		lines = append(lines, c.Name+" "+strings.Join(c.Args, " "))
	}
	return lines
}

type fakeConfirm struct {
	answer bool
	asked  []string
}

func (f *fakeConfirm) ShouldRecreate(name string) (bool, error) {
	f.asked = append(f.asked, name)
	return f.answer, nil
}

func TestEnsureCreatesAbsentCluster(t *testing.T) {
	runner := &fakeRunner{listOut: "other-cluster   1/1   2/2   true\n"}
	p := NewProvisioner(runner, &fakeConfirm{})

	err := p.Ensure(context.Background(), Spec{Name: "cka", Servers: 1, Agents: 2})
	require.NoError(t, err)

	lines := runner.commandLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "k3d cluster list --no-headers", lines[0])
	assert.Equal(t, "k3d cluster create cka --servers 1 --agents 2 --port 443:443@loadbalancer --port 80:80@loadbalancer --wait", lines[1])
}

func TestEnsureSkipsExistingClusterWhenRequested(t *testing.T) {
	runner := &fakeRunner{listOut: "cka   1/1   2/2   true\n"}
	confirm := &fakeConfirm{}
	p := NewProvisioner(runner, confirm)

	err := p.Ensure(context.Background(), Spec{Name: "cka", Servers: 1, Agents: 2, SkipIfExists: true})
	require.NoError(t, err)

	// Only the existence check ran; no create, no delete, no prompt.
	assert.Equal(t, []string{"k3d cluster list --no-headers"}, runner.commandLines())
	assert.Empty(t, confirm.asked)
}

func TestEnsureIsIdempotentWithSkipIfExists(t *testing.T) {
	runner := &fakeRunner{listOut: "cka   1/1   2/2   true\n"}
	p := NewProvisioner(runner, &fakeConfirm{})
	spec := Spec{Name: "cka", Servers: 1, Agents: 2, SkipIfExists: true}

	require.NoError(t, p.Ensure(context.Background(), spec))
	require.NoError(t, p.Ensure(context.Background(), spec))

	for _, line := range runner.commandLines() {
		assert.NotContains(t, line, "create")
		assert.NotContains(t, line, "delete")
	}
}

func TestEnsureRecreatesOnConfirmation(t *testing.T) {
	runner := &fakeRunner{listOut: "cka   1/1   2/2   true\n"}
	confirm := &fakeConfirm{answer: true}
	p := NewProvisioner(runner, confirm)

	err := p.Ensure(context.Background(), Spec{Name: "cka", Servers: 3, Agents: 0})
	require.NoError(t, err)

	lines := runner.commandLines()
	require.Len(t, lines, 3)
	assert.Equal(t, "k3d cluster delete cka", lines[1])
	assert.Contains(t, lines[2], "cluster create cka --servers 3 --agents 0")
	assert.Equal(t, []string{"cka"}, confirm.asked)
}

func TestEnsureReusesClusterWhenDeclined(t *testing.T) {
	runner := &fakeRunner{listOut: "cka   1/1   2/2   true\n"}
	p := NewProvisioner(runner, &fakeConfirm{answer: false})

	err := p.Ensure(context.Background(), Spec{Name: "cka", Servers: 1, Agents: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3d cluster list --no-headers"}, runner.commandLines())
}

func TestEnsurePropagatesRunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: &execx.ToolNotFoundError{Tool: "k3d"}}
	p := NewProvisioner(runner, &fakeConfirm{})

	err := p.Ensure(context.Background(), Spec{Name: "cka", Servers: 1, Agents: 2})
	var notFound *execx.ToolNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "k3d", notFound.Tool)
}

func TestTerminalConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"yes\n", true},
		{"YES\n", true},
		{"no\n", false},
		{"\n", false},
		{"y\n", false}, // only a full "yes" recreates
	}
	for _, tc := range tests {
		var out strings.Builder
		confirm := &TerminalConfirm{In: strings.NewReader(tc.input), Out: &out}
		got, err := confirm.ShouldRecreate("cka")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
		assert.Contains(t, out.String(), "cka")
	}
}
