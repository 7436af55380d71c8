package jobs

import (
	"context"
	"encoding/json"
	"fmt"
)

// Pipeline step names. Each step re-derives its state from the database so
// a crashed worker can be resumed by any other worker.
const (
	JobProcessBatchGroup     = "process-batch-group"
	JobBatchWalletAccounting = "batch-wallet-accounting"
	JobBatchWalletSigning    = "batch-wallet-signing"
	JobBatchWalletFinalizing = "batch-wallet-finalizing"
	JobBatchFinalizing       = "batch-finalizing"
)

// Job is one durable pipeline step. Execute must be idempotent: the
// scheduler re-runs a step after retryable failures and worker crashes.
type Job interface {
	Name() string
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Registry resolves job names from claimed run rows to their handlers.
type Registry struct {
	jobs map[string]Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{jobs: make(map[string]Job)}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		registry.jobs[job.Name()] = job
	}
	return registry
}

// Register adds a job to the registry, replacing any previous handler with
// the same name.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs[job.Name()] = job
}

// Lookup returns the handler for a job name.
func (r *Registry) Lookup(name string) (Job, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("no job registered for %q", name)
	}
	return job, nil
}
