// Package testutil provides database, Redis and fixture helpers for jobcoord tests.
package testutil

import (
	"encoding/json"

	"github.com/target/mmk-jobcoord/internal/domain/model"
)

// RunRequestBuilder provides a fluent interface for building CreateRunRequest values in tests.
type RunRequestBuilder struct {
	req *model.CreateRunRequest
}

// NewRunRequest creates a builder for a manual run of jobName.
func NewRunRequest(jobName string) *RunRequestBuilder {
	return &RunRequestBuilder{
		req: &model.CreateRunRequest{
			JobName:     jobName,
			Trigger:     model.TriggerManual,
			TriggeredBy: "test",
		},
	}
}

// WithTrigger sets the trigger kind.
func (b *RunRequestBuilder) WithTrigger(trigger model.TriggerKind) *RunRequestBuilder {
	b.req.Trigger = trigger
	return b
}

// WithParams sets the merged params payload.
func (b *RunRequestBuilder) WithParams(params string) *RunRequestBuilder {
	b.req.Params = json.RawMessage(params)
	return b
}

// WithScope sets the scope payload.
func (b *RunRequestBuilder) WithScope(scope string) *RunRequestBuilder {
	b.req.Scope = json.RawMessage(scope)
	return b
}

// WithDependsOn sets the dependency snapshot.
func (b *RunRequestBuilder) WithDependsOn(deps ...string) *RunRequestBuilder {
	b.req.DependsOn = deps
	return b
}

// WithBatch sets the batch id.
func (b *RunRequestBuilder) WithBatch(batchID string) *RunRequestBuilder {
	b.req.BatchID = &batchID
	return b
}

// WithVersion sets the version tag.
func (b *RunRequestBuilder) WithVersion(version string) *RunRequestBuilder {
	b.req.Version = version
	return b
}

// WithTriggeredBy sets the requester recorded on the run.
func (b *RunRequestBuilder) WithTriggeredBy(who string) *RunRequestBuilder {
	b.req.TriggeredBy = who
	return b
}

// Build returns the request.
func (b *RunRequestBuilder) Build() *model.CreateRunRequest {
	return b.req
}

// NewWorkerRequest returns a valid registration for pool.
func NewWorkerRequest(pool string) *model.RegisterWorkerRequest {
	return &model.RegisterWorkerRequest{Pool: pool, Hostname: "test-host", PID: 4242}
}
