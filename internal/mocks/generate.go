// Package mocks provides gomock implementations of the internal/core ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	runs := mocks.NewMockRunRepository(ctrl)
//	runs.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(run, nil)
package mocks

// RunRepository: Create, CreateBatch, Claim, Heartbeat, Finish, RequestCancel, IsCancelRequested,
// GetByID, HasActiveRun, List, ListActive, Stats, WaitForNotification
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=run_repository_mock.go github.com/target/mmk-jobcoord/internal/core RunRepository

// ReaperRepository: SweepStalled, CancelBlockedRuns
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=reaper_repository_mock.go github.com/target/mmk-jobcoord/internal/core ReaperRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=worker_repository_mock.go github.com/target/mmk-jobcoord/internal/core WorkerRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_log_repository_mock.go github.com/target/mmk-jobcoord/internal/core JobLogRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=schedule_repository_mock.go github.com/target/mmk-jobcoord/internal/core ScheduleRepository
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=cancel_signal_mock.go github.com/target/mmk-jobcoord/internal/core CancelSignal
