package taskloop

import (
	"errors"
	"strings"
	"testing"
)

func TestPanicErrorMessage(t *testing.T) {
	err := PanicError{Value: "kaboom"}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("Error() = %q, want the panic value included", err.Error())
	}
}

func TestPanicErrorUnwrapsErrorValue(t *testing.T) {
	cause := errors.New("root cause")
	err := PanicError{Value: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not match through Unwrap")
	}
	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestPanicErrorNonErrorValueUnwrapsNil(t *testing.T) {
	err := PanicError{Value: 42}
	if got := err.Unwrap(); got != nil {
		t.Errorf("Unwrap() = %v, want nil for a non-error panic value", got)
	}
}

// The sentinels must stay distinct; callers branch on them with errors.Is.
func TestSentinelErrorsDistinct(t *testing.T) {
	sentinels := []error{
		ErrCanceled,
		ErrTaskFailed,
		ErrAwaitCanceled,
		ErrDeadlock,
		ErrLoopRunning,
		ErrLoopClosed,
		ErrGoexit,
		ErrQueueClosed,
		ErrFDOutOfRange,
		ErrFDAlreadyRegistered,
		ErrFDNotRegistered,
		ErrFDInvalid,
		ErrPollerClosed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %v matches %v", a, b)
			}
		}
	}
}
