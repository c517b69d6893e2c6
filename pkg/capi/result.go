// Package capi exposes engines through opaque integer handles and
// flattened buffers: the shape a foreign-function boundary expects.
// Every operation returns a Result instead of a Go error, panics never
// cross the boundary, and output buffers are caller-allocated.
package capi

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/navigable/smallworld/pkg/core"
)

// Result is the flattened outcome of one operation. Code is stable
// across releases; Msg is human-readable detail and carries no contract.
type Result struct {
	OK   bool      `json:"ok"`
	Code core.Code `json:"code"`
	Msg  string    `json:"msg,omitempty"`
}

func ok() Result {
	return Result{OK: true, Code: core.CodeOK}
}

func fail(err error) Result {
	return Result{Code: core.CodeOf(err), Msg: err.Error()}
}

// guard runs one operation and fences panics: whatever goes wrong inside
// comes back as an Internal result, never as an unwinding panic.
func guard(op string, fn func() error) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic across api boundary",
				"op", op,
				"panic", r,
				"stack", string(debug.Stack()))
			res = Result{
				Code: core.CodeInternal,
				Msg:  fmt.Sprintf("internal panic in %s: %v", op, r),
			}
		}
	}()
	if err := fn(); err != nil {
		return fail(err)
	}
	return ok()
}
