// Package testutil holds shared fixtures for package tests: a migrated
// postgres, a reserved redis DB, and request builders.
package testutil

import (
	"sync"
	"time"
)

// TestTime is the fixed instant tests seed their fake clocks with.
func TestTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// ConcurrentTestRunner fires functions at the same time against shared state.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner returns a runner reporting through t.
func NewConcurrentTestRunner(t TestingTB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent releases all funcs together and returns their errors by index.
func (r *ConcurrentTestRunner) RunConcurrent(funcs ...func() error) []error {
	r.t.Helper()

	errs := make([]error, len(funcs))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// AssertNoErrors fails on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent call %d failed: %v", i, err)
		}
	}
}

// StringPtr returns &s.
func StringPtr(s string) *string { return &s }

// Int64Ptr returns &i.
func Int64Ptr(i int64) *int64 { return &i }
