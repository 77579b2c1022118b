package core

import "fmt"

// Dep is the dependency sum type of spec.md §3: Plain, Dynamic, Concat,
// Compound or Root. Go has no tagged unions, so each variant is its own
// type implementing this marker interface and normalize (below) switches on
// the concrete type -- the idiomatic Go rendering of the "polymorphic
// dependency hierarchy" design note in spec.md §9.
type Dep interface {
	// Flags returns this node's own flags (not those inherited from parents).
	Flags() Flags
	// Places returns the source locations of this node's placed flags,
	// indexed the same way as Placed's bits (Persistent, Optional, Trivial).
	Places() [3]Place
	fmt.Stringer
	isDep()
}

// depBase factors out the flags/places pair shared by every non-Root variant.
type depBase struct {
	flags  Flags
	places [3]Place
}

func (d depBase) Flags() Flags       { return d.flags }
func (d depBase) Places() [3]Place   { return d.places }

// PlainDep is a single target dependency, optionally a parameter-bound
// target name and/or a $-variable binding.
type PlainDep struct {
	depBase
	Target Target
	// PlaceParamTarget carries the (possibly still-parametric) name as
	// written in the rule file, for diagnostics; empty when not applicable.
	PlaceParamTarget string
	// VariableName is the explicit name to bind under when Flags().Has(Variable);
	// empty means "use the filename" (resolved by unlink, §4.6).
	VariableName string
}

func (PlainDep) isDep() {}
func (d PlainDep) String() string { return d.Flags().String() + d.Target.String() }

// NewPlainDep constructs a normalized Plain dependency on target.
func NewPlainDep(flags Flags, places [3]Place, target Target) PlainDep {
	f := flags
	if target.IsTransient() {
		f |= TargetTransient
	} else {
		f &^= TargetTransient
	}
	return PlainDep{depBase: depBase{flags: f, places: places}, Target: target}
}

// DynamicDep wraps one level of "[...]" around an inner dependency.
// Variable is forbidden on a Dynamic node (spec.md §3 invariants):
// variables are never themselves dynamic.
type DynamicDep struct {
	depBase
	Inner Dep
}

func (DynamicDep) isDep() {}
func (d DynamicDep) String() string { return d.Flags().String() + "[" + d.Inner.String() + "]" }

// NewDynamicDep constructs a Dynamic dependency. Panics if inner carries
// the Variable flag, since that combination is a parser-level bug, not a
// runtime condition normalize() is expected to recover from.
func NewDynamicDep(flags Flags, places [3]Place, inner Dep) DynamicDep {
	if inner.Flags().Has(Variable) {
		panic("core: Dynamic dependency may not wrap a Variable dependency")
	}
	return DynamicDep{depBase: depBase{flags: flags | TargetDynamic, places: places}, Inner: inner}
}

// ConcatDep is an unresolved concatenation "(a)(b)...", at least 2 parts
// before normalization. Normalization either collapses it into a Plain or
// keeps it as a Concat of at least 2 normalized Plain/Dynamic parts.
type ConcatDep struct {
	depBase
	Parts []Dep
}

func (ConcatDep) isDep() {}

// NewConcatDep constructs an unresolved concatenation of parts (must be at
// least 2; a parser building up a chain of juxtaposed "(a)(b)(c)" atoms
// should fold left, each fold producing a 2-part ConcatDep).
func NewConcatDep(flags Flags, places [3]Place, parts []Dep) ConcatDep {
	return ConcatDep{depBase: depBase{flags: flags, places: places}, Parts: parts}
}

func (d ConcatDep) String() string {
	s := d.Flags().String()
	for _, p := range d.Parts {
		s += "(" + p.String() + ")"
	}
	return s
}

// CompoundDep is a parenthesised list; it never survives normalize() (its
// parts are flattened into the result list directly).
type CompoundDep struct {
	depBase
	Parts []Dep
}

func (CompoundDep) isDep() {}

// NewCompoundDep constructs a parenthesised list of parts, each of which
// inherits flags/places from the compound during Normalize (spec.md §4.2:
// "parent does not overwrite child's own placed flags").
func NewCompoundDep(flags Flags, places [3]Place, parts []Dep) CompoundDep {
	return CompoundDep{depBase: depBase{flags: flags, places: places}, Parts: parts}
}

func (d CompoundDep) String() string {
	s := d.Flags().String() + "("
	for i, p := range d.Parts {
		if i > 0 {
			s += " "
		}
		s += p.String()
	}
	return s + ")"
}

// RootDep is the sentinel parent of top-level requests; it carries no
// flags or target of its own.
type RootDep struct{}

func (RootDep) isDep()             {}
func (RootDep) Flags() Flags       { return 0 }
func (RootDep) Places() [3]Place   { return [3]Place{} }
func (RootDep) String() string     { return "<root>" }
