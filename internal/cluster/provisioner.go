package cluster

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bootstrapctl/internal/execx"
	"bootstrapctl/pkg/logging"
)

// Spec declares the desired cluster. It is supplied once from CLI arguments
// and immutable for the process lifetime.
type Spec struct {
	Name         string
	Servers      int
	Agents       int
	SkipIfExists bool
}

// ConfirmPolicy decides whether an existing cluster of the same name should
// be deleted and recreated. Injected so the decision is testable without a
// real terminal.
type ConfirmPolicy interface {
	ShouldRecreate(clusterName string) (bool, error)
}

// TerminalConfirm prompts the operator on the terminal. Only an explicit
// "yes" triggers recreation; any other answer reuses the existing cluster.
type TerminalConfirm struct {
	In  io.Reader
	Out io.Writer
}

func (t *TerminalConfirm) ShouldRecreate(clusterName string) (bool, error) {
	fmt.Fprintf(t.Out, "Cluster '%s' already exists. Delete and recreate? (yes/no): ", clusterName)
	reader := bufio.NewReader(t.In)
	answer, err := reader.ReadString('\n')
	if err != nil && answer == "" {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(answer), "yes"), nil
}

// Provisioner idempotently creates or reuses a k3d cluster.
type Provisioner struct {
	Runner  execx.Runner
	Confirm ConfirmPolicy
}

// NewProvisioner returns a Provisioner using the given runner and confirm
// policy.
func NewProvisioner(runner execx.Runner, confirm ConfirmPolicy) *Provisioner {
	return &Provisioner{Runner: runner, Confirm: confirm}
}

// Ensure makes the declared cluster exist. An already-present cluster is
// reused when SkipIfExists is set or the operator declines recreation;
// otherwise it is deleted and created fresh. Creation blocks until k3d
// reports the cluster ready. A creation failure is fatal; there is no
// automatic rollback.
func (p *Provisioner) Ensure(ctx context.Context, spec Spec) error {
	exists, err := p.exists(ctx, spec.Name)
	if err != nil {
		return err
	}

	if exists {
		if spec.SkipIfExists {
			logging.Info("cluster", "Cluster '%s' already exists, skipping creation", spec.Name)
			return nil
		}
		logging.Warn("cluster", "Cluster '%s' already exists", spec.Name)
		recreate, err := p.Confirm.ShouldRecreate(spec.Name)
		if err != nil {
			return err
		}
		if !recreate {
			logging.Info("cluster", "Using existing cluster")
			return nil
		}
		logging.Info("cluster", "Deleting cluster '%s'...", spec.Name)
		if _, err := p.Runner.Run(ctx, execx.Command{
			Name: "k3d",
			Args: []string{"cluster", "delete", spec.Name},
		}); err != nil {
			return err
		}
	}

	logging.Info("cluster", "Creating k3d cluster '%s' (servers: %d, agents: %d)...",
		spec.Name, spec.Servers, spec.Agents)

	_, err = p.Runner.Run(ctx, execx.Command{
		Name: "k3d",
		Args: []string{
			"cluster", "create", spec.Name,
			"--servers", strconv.Itoa(spec.Servers),
			"--agents", strconv.Itoa(spec.Agents),
			"--port", "443:443@loadbalancer",
			"--port", "80:80@loadbalancer",
			"--wait",
		},
	})
	if err != nil {
		return err
	}

	logging.Info("cluster", "Cluster '%s' created", spec.Name)
	return nil
}

// exists checks cluster presence by name against `k3d cluster list`.
func (p *Provisioner) exists(ctx context.Context, name string) (bool, error) {
	res, err := p.Runner.Run(ctx, execx.Command{
		Name: "k3d",
		Args: []string{"cluster", "list", "--no-headers"},
	})
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, nil
}
