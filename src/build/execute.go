package build

import (
	"os"
	"strings"

	"github.com/djherbis/atime"

	"github.com/stubuild/stu/src/core"
)

// depTarget resolves the single concrete Target a normalized dependency
// refers to: a Plain dependency names it directly, a Dynamic dependency
// names the same target one level more dynamic than its inner dependency.
// A Concat or Compound dependency reaching this layer means normalize
// could not reduce it to a Plain name (e.g. concatenating two Dynamic
// operands) -- the engine only ever interns concrete Targets, so that case
// is reported rather than silently guessed at.
func depTarget(d core.Dep) (core.Target, error) {
	switch v := d.(type) {
	case core.PlainDep:
		return v.Target, nil
	case core.DynamicDep:
		t, err := depTarget(v.Inner)
		if err != nil {
			return core.Target{}, err
		}
		return t.Dynamic(), nil
	default:
		return core.Target{}, core.NewLogicalError(core.NoPlace, "dependency %s does not resolve to a single buildable target", d)
	}
}

// variableName returns the explicit $-variable name a dependency asked to
// bind under, descending through any Dynamic wrapping; "" means "use the
// filename" (spec.md §4.6 "variable ingestion").
func variableName(d core.Dep) string {
	switch v := d.(type) {
	case core.PlainDep:
		return v.VariableName
	case core.DynamicDep:
		return variableName(v.Inner)
	default:
		return ""
	}
}

// statFile performs the one-time stat spec.md §4.4.1 calls for, caching
// the result on e so later steps (the Optional short-circuit, the
// staleness decision) never stat the same path twice in one run.
func (s *Scheduler) statFile(e *Execution) {
	if e.checked {
		return
	}
	e.checked = true
	info, err := os.Stat(e.target.Name)
	if err == nil {
		ts := NewTimestamp(info.ModTime())
		e.timestampOld = ts
		e.exists = existYes
		if ts.After(s.startup) {
			log.Warning("%s: modification time is in the future", e.target.Name)
		}
		return
	}
	if os.IsNotExist(err) {
		e.exists = existNo
		return
	}
	e.exists = existNo
	e.errVal = core.NewBuildError(core.NoPlace, e.target.Name, "stat %s: %v", e.target.Name, err)
}

// warnIfAccessedSinceStartup is a diagnostic for a Persistent (-p)
// dependency: Persistent tells unlink to ignore the dependency's mtime
// entirely, so a command might still read a file that changed mid-build
// without ever triggering a rebuild. Reading atime (when the platform
// supports it) catches the case where something actually opened the file
// after the run started, which mtime alone can't reveal.
func warnIfAccessedSinceStartup(s *Scheduler, child *Execution) {
	if child.target.Kind != core.File || child.exists != existYes {
		return
	}
	at, err := atime.Stat(child.target.Name)
	if err != nil {
		return
	}
	if at.After(s.startup) {
		log.Warning("%s: accessed during the build despite being a persistent (-p) dependency", child.target.Name)
	}
}

// execute is spec.md §4.4: the per-node decision of whether this target's
// command must run now, called once per (parent, edge) traversal that
// reaches it. e is the node whose turn it is; edge is the link parent used
// to reach it. Returns true when it stopped early because a deploy or child
// pass asked the caller to stop (job slots exhausted, or runnable work found
// in random mode), and false otherwise (blocked on children, done, or a job
// just launched).
func (e *Execution) execute(s *Scheduler, parent *Execution, edge *EdgeLabel) (bool, error) {
	// 1. Override-trivial propagation.
	if edge.Flags.Has(core.OverrideTrivial) {
		edge.Flags &^= core.Trivial
		edge.Avoid.SetHighest(edge.Avoid.GetHighest() &^ core.Trivial)
	}

	// 2. Early-done check.
	if e.finished(edge.Avoid) {
		return false, nil
	}

	// 3. DFS order: recurse into already-linked children first.
	if !s.random {
		stop, err := e.executeChildren(s)
		if err != nil {
			return false, err
		}
		if stop {
			return true, nil
		}
	}

	// 4. Optional short-circuit. A missing optional dependency has nothing
	// left to decide -- no staleness comparison, no rebuild obligation -- so
	// it is marked done under the full current avoid, the same idiom steps
	// 5 and 9 use, not just its own Optional bit; otherwise a parent with no
	// other placed flags on this edge would never see it as finished (the
	// Persistent/Trivial bits would sit unset forever) and could never unlink
	// it (spec.md §4.4 step 4, §8 scenario 2 "Optional absent").
	if edge.Flags.Has(core.Optional) && e.target.Kind == core.File {
		s.statFile(e)
		if e.errVal != nil {
			return false, e.errVal
		}
		if e.exists == existNo {
			e.markDone(edge.Avoid)
			e.optionalAbsent = true
			return false, nil
		}
	}

	// 5. Trivial short-circuit.
	if edge.Flags.Has(core.Trivial) {
		e.markDone(edge.Avoid)
		return false, nil
	}

	// 6. First pass over the default queue.
	for len(e.bufDefault) > 0 {
		child := e.bufDefault[0]
		e.bufDefault = e.bufDefault[1:]
		trivialCopy := child
		trivialCopy.Flags |= core.OverrideTrivial
		trivialCopy.Avoid.AddHighest(core.OverrideTrivial)
		e.bufTrivial = append(e.bufTrivial, trivialCopy)

		stop, err := s.deploy(e, &child)
		if err != nil {
			if !s.keepGoing {
				return false, err
			}
			s.errs.Add(err)
		}
		if stop {
			return true, nil
		}
	}

	// 7. Random order: recurse into children after the first deploy pass.
	if s.random {
		stop, err := e.executeChildren(s)
		if err != nil {
			return false, err
		}
		if stop {
			return true, nil
		}
	}

	// 8. Wait for children still running.
	if len(e.children) > 0 {
		return false, nil
	}

	// 9. Error in a child, keep-going mode.
	if e.errVal != nil {
		if s.keepGoing {
			e.markDone(edge.Avoid)
			return false, nil
		}
		return false, e.errVal
	}

	// 10. Non-command targets: transient/root/dynamic nodes with no rule
	// command are done as soon as their dependencies are satisfied.
	if e.rule != nil && !e.rule.HasCommand() && (e.target.Kind != core.File || e.target.IsDynamic()) {
		e.markDone(edge.Avoid)
		return false, nil
	}

	// 11. Already started.
	if e.job != nil && e.job.StartedOrWaited() {
		return false, nil
	}

	// 12/13. Staleness decision.
	if err := s.decideStaleness(e, edge); err != nil {
		return false, err
	}

	// 14. Not needed: done.
	if !e.needBuild {
		e.markDone(edge.Avoid)
		return false, nil
	}

	// 15. Second pass: re-deploy trivial dependencies now that a rebuild is
	// certain.
	for len(e.bufTrivial) > 0 {
		child := e.bufTrivial[0]
		e.bufTrivial = e.bufTrivial[1:]
		stop, err := s.deploy(e, &child)
		if err != nil {
			if !s.keepGoing {
				return false, err
			}
			s.errs.Add(err)
		}
		if stop {
			return true, nil
		}
	}

	// 16. A target without a command: nothing left to do but mark done.
	if e.rule == nil || !e.rule.HasCommand() {
		e.markDone(edge.Avoid)
		return false, nil
	}

	// 17. Launch (or write, for Hardcoded) the command.
	e.pendingAvoid = edge.Avoid.Clone()
	return false, s.launch(e)
}

// decideStaleness implements spec.md §4.4.1/§4.4 step 13: decides whether
// e.needBuild must become true, without ever resetting a true value a
// child's unlink already OR-ed in.
func (s *Scheduler) decideStaleness(e *Execution, edge *EdgeLabel) error {
	switch {
	case e.target.Kind == core.File:
		s.statFile(e)
		if e.errVal != nil {
			return nil // surfaced via step 9 on the next call
		}
		if !e.needBuild {
			if e.exists == existYes {
				if e.timestamp.Exists() && e.timestampOld.Before(e.timestamp) {
					if e.rule == nil || !e.rule.HasCommand() {
						log.Warning("%s: file target has no command but is older than its dependency", e.target.Name)
					} else {
						e.needBuild = true
					}
				} else {
					e.timestamp = e.timestampOld
				}
			} else {
				if !edge.Flags.Has(core.Optional) {
					e.needBuild = true
				} else {
					e.done.AddHighest(core.Optional)
					e.optionalAbsent = true
				}
			}
		}
		if e.exists == existNo && (e.rule == nil || !e.rule.HasCommand()) {
			if e.rule != nil && len(e.rule.Deps) > 0 {
				return core.NewBuildError(e.rule.Place, e.target.Name, "file without command '%s' does not exist, although all its dependencies are up to date", e.target.Name)
			}
			return core.NewBuildError(core.NoPlace, e.target.Name, "file without command and without dependencies '%s' does not exist", e.target.Name)
		}
	case e.target.IsTransient():
		if !e.needBuild {
			if _, done := s.phonies[e.target.Name]; !done {
				e.needBuild = true
			}
		}
	}
	return nil
}

// executeChildren is spec.md §4.5: snapshot the live child set, optionally
// shuffle it for random-order traversal, recurse execute() into each, and
// unlink() any that finished under their own edge's avoid.
func (e *Execution) executeChildren(s *Scheduler) (bool, error) {
	children := make([]*Execution, 0, len(e.children))
	for c := range e.children {
		children = append(children, c)
	}
	if s.random {
		s.rng.Shuffle(len(children), func(i, j int) { children[i], children[j] = children[j], children[i] })
	}
	for _, child := range children {
		link, ok := child.parents[e]
		if !ok {
			continue // already unlinked by an earlier entry in this same pass
		}
		if e.target.IsTransient() {
			link.Flags |= edgeFlagsFromParent(e)
		}
		_, err := child.execute(s, e, link)
		if err != nil {
			if !s.keepGoing {
				return true, err
			}
			s.errs.Add(err)
		}
		if child.finished(link.Avoid) {
			s.unlink(e, child, link)
		}
		if s.jobs <= 0 {
			return true, nil
		}
	}
	return false, nil
}

// edgeFlagsFromParent folds in whichever flags the edges leading into a
// transient parent itself carried, so its own children inherit
// e.g. an Optional obligation the transient was asked to satisfy.
func edgeFlagsFromParent(e *Execution) core.Flags {
	var f core.Flags
	for _, pe := range e.parents {
		f |= pe.Flags & core.Placed
	}
	return f
}

// deploy is the helper §4.4 steps 6/15 call for each queued child edge: it
// interns/links the child Execution, recurses execute() into it, and
// unlinks it immediately if it already finished. Returns whether the
// caller should stop (slot exhaustion, or -- in random mode -- simply that
// more runnable work was found and the driver should re-poll).
func (s *Scheduler) deploy(parent *Execution, edge *EdgeLabel) (bool, error) {
	target, err := depTarget(edge.Dep)
	if err != nil {
		return false, err
	}
	child, err := s.getExecution(target, *edge, parent)
	if err != nil {
		return false, err
	}
	link := child.parents[parent]
	_, err = child.execute(s, parent, link)
	if err != nil {
		return false, err
	}
	if child.finished(link.Avoid) {
		s.unlink(parent, child, link)
	}
	if s.jobs <= 0 {
		return true, nil
	}
	if s.random {
		return true, nil
	}
	return false, nil
}

// unlink is spec.md §4.6: propagate a finished child's results into its
// parent and drop the edge between them.
func (s *Scheduler) unlink(parent, child *Execution, edge *EdgeLabel) {
	if edge.Flags.Has(core.Read) && child.errVal == nil && !child.optionalAbsent {
		if err := s.ingestDynamic(parent, child, edge); err != nil {
			if parent.errVal == nil {
				parent.errVal = err
			}
		}
	}

	if !edge.Flags.Has(core.Persistent) && !edge.Flags.Has(core.Read) {
		parent.timestamp = Max(parent.timestamp, child.timestamp)
	} else if edge.Flags.Has(core.Persistent) {
		warnIfAccessedSinceStartup(s, child)
	}

	if edge.Flags.Has(core.Variable) && child.exists == existYes {
		content, err := os.ReadFile(child.target.Name)
		if err != nil {
			if parent.errVal == nil {
				parent.errVal = core.NewBuildError(core.NoPlace, child.target.Name, "reading variable dependency: %v", err)
			}
		} else {
			name := variableName(edge.Dep)
			if name == "" {
				name = child.target.Name
			}
			if parent.mappingVariable == nil {
				parent.mappingVariable = map[string]string{}
			}
			parent.mappingVariable[name] = strings.TrimSpace(string(content))
		}
	}

	if (parent.target.IsTransient() && (parent.rule == nil || !parent.rule.HasCommand())) || parent.target.IsDynamic() {
		for k, v := range child.mappingVariable {
			if parent.mappingVariable == nil {
				parent.mappingVariable = map[string]string{}
			}
			parent.mappingVariable[k] = v
		}
	}

	if parent.errVal == nil {
		parent.errVal = child.errVal
	}

	if !edge.Flags.Has(core.Persistent) && !edge.Flags.Has(core.Read) {
		parent.needBuild = parent.needBuild || child.needBuild
	}

	delete(parent.children, child)
	delete(child.parents, parent)
}

// ingestDynamic runs the Dynamic Reader (§4.8) over a just-finished base
// file/transient and queues the resulting dependencies onto parent's
// default queue. parent is the dynamic ("[A]") node; child is the base
// ("A") node the Read edge points at, always exactly one level less
// dynamic than parent (guaranteed by initExecution).
func (s *Scheduler) ingestDynamic(parent, child *Execution, edge *EdgeLabel) error {
	var attr core.Flags
	for _, pe := range parent.parents {
		attr |= pe.Flags & core.Attribute
	}
	remaining := parent.target.Depth - 1
	noVariable := parent.target.Depth > 1

	deps, err := readDynamic(child.target.Name, attr, s.parser, remaining, noVariable)
	if err != nil {
		return err
	}
	for _, d := range deps {
		ce, err := s.buildChildEdge(parent, d)
		if err != nil {
			if !s.keepGoing {
				return err
			}
			s.errs.Add(err)
			continue
		}
		parent.bufDefault = append(parent.bufDefault, ce)
	}
	return nil
}
