// Package stuerr implements the four-kind error model of spec.md §7: Build,
// Logical, System and Fatal errors, each carrying an exit-code bit and a
// "needed by" trace chain back to the root request. Unlike the original C++
// source (which throws and unwinds the call stack), the Go port returns
// these as ordinary error values; only the entrypoint in src/stu.go turns
// one into a process exit code, the way the teacher's top-level please.go
// is the only place that calls os.Exit.
package stuerr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Kind identifies which of the four error kinds an Error carries.
type Kind int

const (
	// Build errors: a command failed, a non-optional file is missing, or
	// I/O on a project file failed.
	Build Kind = iota
	// Logical errors: rule conflicts, cycles, or a syntactic constraint
	// violated after parsing (e.g. a dynamic dependency with parameters).
	Logical
	// System errors: resource exhaustion or exec failures in the child path.
	System
	// Fatal errors: a special case of System that terminates instantly,
	// bypassing even cleanup statistics.
	Fatal
)

// Exit code bits, OR-ed together across every error seen during a
// keep-going run (spec.md §6 "Exit codes").
const (
	ExitBuild   = 1
	ExitLogical = 2
	ExitSystem  = 4
)

// Bit returns this error kind's contribution to the process exit code.
// System and Fatal both map to ExitSystem; Fatal is never combined with
// anything else in practice because it terminates the process immediately.
func (k Kind) Bit() int {
	switch k {
	case Build:
		return ExitBuild
	case Logical:
		return ExitLogical
	default:
		return ExitSystem
	}
}

func (k Kind) String() string {
	switch k {
	case Build:
		return "build error"
	case Logical:
		return "logical error"
	case System:
		return "system error"
	case Fatal:
		return "fatal error"
	default:
		return "error"
	}
}

// TraceEntry is one link in the "... needed by ..." chain that explains why
// a target was being built at all.
type TraceEntry struct {
	Target string
	Place  fmt.Stringer
}

// Error is the shape of every error the engine raises. Place is the
// location (if any) that caused the error; Trace is appended to (one entry
// per parent) as the error propagates up through unlink.
type Error struct {
	Kind    Kind
	Target  string
	Place   fmt.Stringer
	Message string
	Trace   []TraceEntry
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Place != nil && e.Place.String() != "" {
		fmt.Fprintf(&b, "%s: ", e.Place)
	}
	fmt.Fprintf(&b, "%s", e.Message)
	for _, t := range e.Trace {
		fmt.Fprintf(&b, "\n%s: needed by %s", t.Place, t.Target)
	}
	return b.String()
}

// WithTrace returns a copy of e with one more "needed by" entry appended,
// used each time unlink propagates an error from child to parent.
func (e *Error) WithTrace(target string, place fmt.Stringer) *Error {
	cp := *e
	cp.Trace = append(append([]TraceEntry{}, e.Trace...), TraceEntry{Target: target, Place: place})
	return &cp
}

// New constructs an Error of the given kind.
func New(kind Kind, place fmt.Stringer, target, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Target: target, Place: place, Message: fmt.Sprintf(format, args...)}
}

// Aggregate accumulates multiple errors seen in keep-going mode into a
// single reportable value, backed by hashicorp/go-multierror the way a
// batch of independent subtree failures is collected before the process
// exits.
type Aggregate struct {
	merr *multierror.Error
	bits int
}

// Add folds err into the aggregate, OR-ing in its exit-code bit. A nil err
// is a no-op.
func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	if se, ok := err.(*Error); ok {
		a.bits |= se.Kind.Bit()
	} else {
		a.bits |= ExitSystem
	}
	a.merr = multierror.Append(a.merr, err)
}

// ExitCode returns the OR of every accumulated error's exit-code bit, or 0
// if nothing was added.
func (a *Aggregate) ExitCode() int { return a.bits }

// HasErrors reports whether anything has been added.
func (a *Aggregate) HasErrors() bool { return a.merr != nil && a.merr.Len() > 0 }

// ErrorOrNil returns the aggregate as an error, or nil if empty.
func (a *Aggregate) ErrorOrNil() error {
	if a.merr == nil {
		return nil
	}
	return a.merr.ErrorOrNil()
}
