package service

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/memoric/memoric/internal/memory"
	registrystore "github.com/memoric/memoric/internal/registry/store"
)

// PolicyRunner periodically applies lifecycle policies across all users.
type PolicyRunner struct {
	manager  *memory.Manager
	interval time.Duration
	timeout  time.Duration
}

// NewPolicyRunner creates a runner that triggers a policy sweep every
// interval, bounding each sweep by timeout when timeout > 0.
func NewPolicyRunner(manager *memory.Manager, interval, timeout time.Duration) *PolicyRunner {
	return &PolicyRunner{
		manager:  manager,
		interval: interval,
		timeout:  timeout,
	}
}

// Start begins the periodic policy loop. Returns when ctx is cancelled.
// A zero interval disables the loop.
func (p *PolicyRunner) Start(ctx context.Context) {
	if p.interval <= 0 {
		log.Info("Policy runner: disabled")
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PolicyRunner) runOnce(ctx context.Context) {
	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	counts, err := p.manager.RunPolicies(runCtx)
	if err != nil {
		var timeout *registrystore.TimeoutError
		if errors.As(err, &timeout) {
			log.Warn("Policy runner: sweep timed out", "counts", counts.Map())
			return
		}
		log.Error("Policy runner: sweep failed", "err", err)
		return
	}
	log.Info("Policy runner: sweep completed", "counts", counts.Map())
}
