// Package testerr helps tests fail dependencies at specific calls.
package testerr

import (
	"errors"
	"fmt"
)

// Err is the error returned by failing dependencies.
var Err = errors.New("test error")

// FailingDep counts calls to a dependency and fails some of them.
// The zero value never fails.
type FailingDep struct {
	Err error
	// FailAt is the zero based index of the first failing call.
	FailAt int
	// Persistent keeps failing all calls after FailAt.
	Persistent bool

	calls int
}

// NewFailingDeps will create failure cases for a number of calls to a dependency.
//
// For every call index two dependencies are created, one that fails only
// at that call and one that keeps failing from that call on.
func NewFailingDeps(err error, expectCalls int) []FailingDep {
	deps := make([]FailingDep, 0, expectCalls*2)
	for i := range expectCalls {
		deps = append(deps,
			FailingDep{Err: err, FailAt: i, Persistent: true},
			FailingDep{Err: err, FailAt: i},
		)
	}

	return deps
}

func (d *FailingDep) String() string {
	if d.Persistent {
		return fmt.Sprintf("all calls from %d", d.FailAt)
	}
	return fmt.Sprintf("call %d", d.FailAt)
}

// Calls returns the number of calls made so far.
func (d *FailingDep) Calls() int {
	return d.calls
}

func (d *FailingDep) fails() bool {
	i := d.calls
	d.calls++

	if d.Err == nil {
		return false
	}

	return i == d.FailAt || (d.Persistent && i > d.FailAt)
}

// MaybeFailErrFunc returns the dependency error if this call should fail,
// otherwise it returns the result of f.
func MaybeFailErrFunc(dep *FailingDep, f func() error) error {
	if dep.fails() {
		return dep.Err
	}

	return f()
}

// MaybeFail returns the dependency error if this call should fail,
// otherwise it returns the result of f.
func MaybeFail[T any](dep *FailingDep, f func() (T, error)) (T, error) {
	if dep.fails() {
		var zero T
		return zero, dep.Err
	}

	return f()
}
