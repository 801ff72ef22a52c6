package bootstrap

import (
	"fmt"

	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/jobs/builtin"
)

// NewRegistry registers the builtin handlers plus extra, then validates the
// dependency graph. A process must not start workers on an invalid registry.
func NewRegistry(extra ...job.Handler) (*job.Registry, error) {
	reg := job.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return nil, fmt.Errorf("register builtin jobs: %w", err)
	}
	for _, h := range extra {
		if err := reg.Register(h); err != nil {
			return nil, fmt.Errorf("register job: %w", err)
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("validate job registry: %w", err)
	}
	return reg, nil
}
