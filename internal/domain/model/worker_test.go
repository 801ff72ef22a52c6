package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerInstance_IsActive(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	w := WorkerInstance{Status: WorkerStatusRunning, LastHeartbeatAt: now.Add(-10 * time.Second)}
	assert.True(t, w.IsActive(now, DefaultLivenessWindow))

	w.LastHeartbeatAt = now.Add(-31 * time.Second)
	assert.False(t, w.IsActive(now, DefaultLivenessWindow))

	w.LastHeartbeatAt = now
	w.Status = WorkerStatusStopped
	assert.False(t, w.IsActive(now, DefaultLivenessWindow))
}

func TestRegisterWorkerRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterWorkerRequest
		wantErr bool
	}{
		{name: "valid", req: RegisterWorkerRequest{Pool: DefaultWorkerPool, Hostname: "host-a", PID: 42}},
		{name: "missing pool", req: RegisterWorkerRequest{Hostname: "host-a", PID: 42}, wantErr: true},
		{name: "missing host", req: RegisterWorkerRequest{Pool: "p", PID: 42}, wantErr: true},
		{name: "bad pid", req: RegisterWorkerRequest{Pool: "p", Hostname: "h"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerLease_Live(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var nilLease *WorkerLease
	assert.False(t, nilLease.Live(now))
	assert.True(t, (&WorkerLease{ExpiresAt: now.Add(time.Second)}).Live(now))
	assert.False(t, (&WorkerLease{ExpiresAt: now}).Live(now))
}

func TestAppendLogRequest_Validate(t *testing.T) {
	req := AppendLogRequest{RunID: 1, Message: "started"}
	assert.NoError(t, req.Validate())
	assert.Equal(t, LogLevelInfo, req.Level)

	assert.Error(t, (&AppendLogRequest{Message: "x"}).Validate())
	assert.Error(t, (&AppendLogRequest{RunID: 1, Level: "trace", Message: "x"}).Validate())
	assert.Error(t, (&AppendLogRequest{RunID: 1}).Validate())
}

func TestUpsertScheduleRequest_Validate(t *testing.T) {
	assert.NoError(t, (&UpsertScheduleRequest{JobName: "noop", Interval: time.Minute}).Validate())
	assert.Error(t, (&UpsertScheduleRequest{JobName: "noop", Interval: time.Millisecond}).Validate())
	assert.Error(t, (&UpsertScheduleRequest{Interval: time.Minute}).Validate())
}
