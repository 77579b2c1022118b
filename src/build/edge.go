// Package build implements the live execution graph: Execution nodes
// interned per Target, the Scheduler that drives the execute/wait loop,
// the dynamic-dependency reader, and strong-cycle detection over the
// parametric rule graph (spec.md §4.3-§4.9). It depends on package core
// for the data model (Target, Flags, Dep, Rule, RuleSet) and on package
// process for subprocess lifecycle.
package build

import (
	"github.com/stubuild/stu/src/core"
)

// EdgeLabel annotates one parent->child link in the live execution graph
// (spec.md §3). avoid records, per dynamic level, which transitive
// obligations the parent has already neutralized on the child's behalf;
// flags are this edge's own flags; place/dep point back at the dependency
// declaration that produced the edge.
type EdgeLabel struct {
	Avoid core.FlagStack
	Flags core.Flags
	Place core.Place
	Dep   core.Dep
}

// union merges another edge's avoid/flags into this one in place, used
// when get_execution finds the (parent, child) pair already linked
// (spec.md §4.3 step 1: "unioning avoid and flags if the pair already
// exists").
func (e *EdgeLabel) union(other EdgeLabel) {
	e.Avoid.Add(other.Avoid)
	e.Flags |= other.Flags
}
