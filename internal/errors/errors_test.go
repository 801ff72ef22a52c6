package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "run 7 not found",
			},
			want: "run 7 not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeStorage,
				Message: "storage unavailable",
				Cause:   errors.New("connection reset"),
			},
			want: "storage unavailable: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeStorage, "wrapped")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(Wrap(cause)) = false, want true")
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		wantCode  ErrorCode
		wantField string
		pred      func(error) bool
	}{
		{"unknown job", UnknownJob("recalc-scores"), ErrCodeUnknownJob, "job_name", IsUnknownJob},
		{"unknown group", UnknownGroup("nightly"), ErrCodeUnknownGroup, "group", IsUnknownGroup},
		{"invalid parameters", InvalidParameters("params", "must be an object"), ErrCodeInvalidParameters, "params", IsInvalidParameters},
		{"invalid parameters formatted", InvalidParametersf("limit %d too large", 5000), ErrCodeInvalidParameters, "", IsInvalidParameters},
		{"not found", NotFoundf("run %d not found", 3), ErrCodeNotFound, "", IsNotFound},
		{"invalid state", InvalidStatef("run %d already %s", 3, "succeeded"), ErrCodeInvalidState, "", IsInvalidState},
		{"cycle", CyclicDependency([]string{"a", "b"}), ErrCodeCyclicDependency, "", IsCyclicDependency},
		{"storage", Storage(errors.New("boom")), ErrCodeStorage, "", IsStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.wantCode)
			}
			if GetField(tt.err) != tt.wantField {
				t.Errorf("GetField() = %q, want %q", GetField(tt.err), tt.wantField)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.pred(wrapped) {
				t.Errorf("predicate did not match wrapped %v", tt.wantCode)
			}
		})
	}
}

func TestCyclicDependency_Message(t *testing.T) {
	err := CyclicDependency([]string{"a", "b"})
	if err.Message != "job dependency cycle among: a, b" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestStorage_HidesCause(t *testing.T) {
	if Storage(nil) != nil {
		t.Fatal("Storage(nil) should be nil")
	}
	err := Storage(errors.New(`relation "job_runs" does not exist`))
	if err.Message != "storage unavailable, please retry" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"storage", Storage(errors.New("x")), true},
		{"timeout", Wrap(errors.New("x"), ErrCodeTimeout, "slow"), true},
		{"not found", NotFound("gone"), false},
		{"invalid state", InvalidState("terminal"), false},
		{"plain error", errors.New("x"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ErrCodeStorage, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, ErrCodeStorage, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestGetCode_NonAppError(t *testing.T) {
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode() = %q, want empty", got)
	}
}
