package service

import (
	"context"
	"errors"

	"github.com/target/mmk-jobcoord/internal/data"
	apperrors "github.com/target/mmk-jobcoord/internal/errors"
)

// mapRepoError converts repository sentinels and driver failures into AppErrors.
// model.ErrNoRunsAvailable is not a failure and is returned unchanged by callers before reaching here.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, data.ErrRunNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "job run not found")
	case errors.Is(err, data.ErrRunTerminal):
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidState, "job run already finished")
	case errors.Is(err, data.ErrWorkerNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "worker instance not found")
	case errors.Is(err, data.ErrScheduleNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNotFound, "scheduled job not found")
	default:
		return apperrors.MapDBError(err)
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
