package pipeline

import (
	"errors"
	"fmt"
)

// ErrInterrupted fails a job whose worker was asked to stop between stages.
var ErrInterrupted = errors.New("interrupted by shutdown")

// FatalError ends a job as failed. Msg is what users see in the job's error.
type FatalError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatalf(stage string, cause error, format string, args ...interface{}) *FatalError {
	return &FatalError{Stage: stage, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
