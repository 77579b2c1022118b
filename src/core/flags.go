// Package core implements the dependency algebra, rule/target model and
// in-memory execution graph shared by the build engine (package build) and
// the dynamic-dependency reader. It deliberately knows nothing about how
// rule files are tokenized or parsed (see Rule / RuleSet below) or about
// colorized diagnostic rendering; those are the driver's job.
package core

// Flags is a bitfield annotating a dependency edge. The zero value is the
// simplest possible dependency (a plain, mandatory, file-or-transient,
// always-rebuild-if-newer edge); every bit enables one extra behaviour.
//
// The "done" bookkeeping on Execution (see execution.go) stores the
// complement of the placed bits: a bit set there means that part of the
// work has been completed, i.e. it is set when it was initially clear here.
type Flags uint

// Indices into FlagsChars, used when rendering a Flags value for debug output.
const (
	IPersistent = iota
	IOptional
	ITrivial
	ITargetDynamic
	ITargetTransient
	IVariable
	INewlineSeparated
	INulSeparated
	IRead
	IInput

	cAll
	cPlaced = 3 // Persistent, Optional, Trivial are the "placed" flags.
)

// Individual flag bits.
const (
	// Persistent (-p): when the dependency is newer than the target, don't rebuild.
	Persistent Flags = 1 << IPersistent
	// Optional (-o): don't build (or complain about) the dependency if it doesn't exist.
	Optional Flags = 1 << IOptional
	// Trivial (-t): only consider this dependency in the second pass, after the
	// host has already decided (from other dependencies) that it must rebuild.
	Trivial Flags = 1 << ITrivial
	// TargetDynamic marks a dependency whose target is itself dynamic ("[X]").
	TargetDynamic Flags = 1 << ITargetDynamic
	// TargetTransient marks a dependency whose target is a transient (phony) target.
	TargetTransient Flags = 1 << ITargetTransient
	// Variable ($[...]) says the content of the file should be bound into the
	// job's environment under a variable name instead of being a plain dependency.
	Variable Flags = 1 << IVariable
	// NewlineSeparated: for dynamic dependencies, the file is one filename per line.
	NewlineSeparated Flags = 1 << INewlineSeparated
	// NulSeparated: for dynamic dependencies, the file is NUL-delimited filenames.
	NulSeparated Flags = 1 << INulSeparated
	// Read is internal-only: marks the edge from a "[A]" node down to the "A"
	// node it reads to discover its dynamic dependency list.
	Read Flags = 1 << IRead
	// Input (<) marks a dependency that should be opened and dup2'd onto the
	// child's stdin rather than merely being built first.
	Input Flags = 1 << IInput

	// Placed is the mask of flags that carry an associated source Place.
	Placed = Persistent | Optional | Trivial
	// TargetBits is the mask of flags describing the kind of the referenced target.
	TargetBits = TargetDynamic | TargetTransient
	// Attribute is the mask of flags describing how to parse a dynamic dependency file.
	Attribute = NewlineSeparated | NulSeparated

	// OverrideTrivial is not a wire flag; it's set internally on a single
	// edge instance to force a Trivial dependency to be treated as urgent
	// for that one traversal (used by the second execution pass, §4.4 step 6).
	OverrideTrivial Flags = 1 << 31
)

// FlagsChars gives, in bit-index order, the short character Stu uses to
// render each flag in verbose/debug output (mirrors stu's FLAGS_CHARS).
const FlagsChars = "pot[@$n0rI"

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// String renders flags for debug output, e.g. "-pot".
func (f Flags) String() string {
	out := make([]byte, 0, cAll+1)
	for i := 0; i < cAll; i++ {
		if f&(1<<uint(i)) != 0 && i < len(FlagsChars) {
			out = append(out, FlagsChars[i])
		}
	}
	if len(out) == 0 {
		return ""
	}
	return "-" + string(out)
}
