package core

import (
	"regexp"
	"strings"
)

// RuleSet is the interface the engine consumes to resolve a concrete
// Target to its (already-instantiated) Rule plus the parameter bindings
// that produced it (spec.md §1, §4.10). Tokenizing and indexing rule-file
// source is explicitly out of scope; this interface is the entire surface
// the rest of the engine needs from whatever does that work.
type RuleSet interface {
	// Lookup resolves target to its instantiated rule, the pre-instantiation
	// "parametric" rule it came from (used only for strong-cycle identity,
	// spec.md §4.9; equal to the instantiated rule itself when the rule had
	// no parameters), and the parameter bindings used. Returns
	// (nil, nil, nil, nil) if no rule matches at all. A non-nil error means
	// the rule set itself is inconsistent (e.g. "multiple minimal rules").
	Lookup(target Target) (rule *Rule, paramRule *Rule, bindings map[string]string, err error)
}

// templateRule is one parametrized rule entry as StaticRuleSet indexes it:
// the rule as written (with $name placeholders still in target names) plus
// a compiled matcher per target name.
type templateRule struct {
	rule     *Rule
	matchers []*templateMatcher
}

// templateMatcher turns one target-name template (e.g. "$name.o") into a
// regexp with one capture group per parameter, in declaration order, plus
// enough bookkeeping to recover each match's "anchoring" -- the byte
// extents every parameter occupied in the matched string (spec.md
// GLOSSARY "Anchoring").
type templateMatcher struct {
	re     *regexp.Regexp
	params []string
}

func compileTemplate(template string) *templateMatcher {
	var pattern strings.Builder
	pattern.WriteByte('^')
	var params []string
	i := 0
	for i < len(template) {
		c := template[i]
		if c == '$' && i+1 < len(template) {
			name, width := parseParamName(template[i+1:])
			if name != "" {
				pattern.WriteString("(.+?)")
				params = append(params, name)
				i += 1 + width
				continue
			}
		}
		pattern.WriteString(regexp.QuoteMeta(string(c)))
		i++
	}
	pattern.WriteByte('$')
	return &templateMatcher{re: regexp.MustCompile(pattern.String()), params: params}
}

// parseParamName parses a $name or ${name} parameter reference starting
// right after the '$'. Returns the parameter name and how many bytes (after
// the '$') it consumed; returns "" if s doesn't start with a valid reference.
func parseParamName(s string) (string, int) {
	if len(s) == 0 {
		return "", 0
	}
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", 0
		}
		return s[1:end], end + 1
	}
	j := 0
	for j < len(s) && isNameByte(s[j]) {
		j++
	}
	return s[:j], j
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// match attempts to match name against this template. On success it returns
// the parameter bindings and an "anchoring" boolean mask (one entry per
// byte of name: true where that byte fell inside some parameter capture).
func (m *templateMatcher) match(name string) (map[string]string, []bool, bool) {
	loc := m.re.FindStringSubmatchIndex(name)
	if loc == nil {
		return nil, nil, false
	}
	bindings := make(map[string]string, len(m.params))
	mask := make([]bool, len(name))
	for i, p := range m.params {
		start, end := loc[2+2*i], loc[2+2*i+1]
		bindings[p] = name[start:end]
		for j := start; j < end; j++ {
			mask[j] = true
		}
	}
	return bindings, mask, true
}

// StaticRuleSet is a minimal, in-memory RuleSet good enough to drive and
// test the execution engine without a real rule-file frontend: an exact
// map for unparametrized targets, plus a list of parametrized rules
// resolved by the anchoring-dominance procedure of spec.md §4.10.
type StaticRuleSet struct {
	exact       map[Target]*Rule
	parametric  []templateRule
}

// NewStaticRuleSet returns an empty rule set ready for AddRule calls.
func NewStaticRuleSet() *StaticRuleSet {
	return &StaticRuleSet{exact: map[Target]*Rule{}}
}

// AddRule indexes rule under each of its Targets. A rule with no
// Parameters is indexed for exact lookup; otherwise every target name is
// compiled into a template matcher.
func (rs *StaticRuleSet) AddRule(rule *Rule) {
	if len(rule.Parameters) == 0 {
		for _, t := range rule.Targets {
			rs.exact[t] = rule
		}
		return
	}
	tr := templateRule{rule: rule}
	for _, t := range rule.Targets {
		tr.matchers = append(tr.matchers, compileTemplate(t.Name))
	}
	rs.parametric = append(rs.parametric, tr)
}

type candidate struct {
	rule     *Rule
	bindings map[string]string
	mask     []bool
}

// Lookup implements RuleSet.Lookup via exact match first, then the
// anchoring-dominance procedure over parametrized rules (§4.10).
func (rs *StaticRuleSet) Lookup(target Target) (*Rule, *Rule, map[string]string, error) {
	if r, ok := rs.exact[target]; ok {
		return r, r, map[string]string{}, nil
	}

	var candidates []candidate
	for _, tr := range rs.parametric {
		for ti, t := range tr.rule.Targets {
			if t.Kind != target.Kind {
				continue
			}
			bindings, mask, ok := tr.matchers[ti].match(target.Name)
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{rule: tr.rule, bindings: bindings, mask: mask})
		}
	}

	candidates = discardDominated(candidates)
	if len(candidates) == 0 {
		return nil, nil, nil, nil
	}
	if len(candidates) > 1 {
		return nil, nil, nil, NewLogicalError(NoPlace, "multiple minimal rules for target %s", target)
	}
	best := candidates[0]
	instantiated := instantiateRule(best.rule, best.bindings)
	return instantiated, best.rule, best.bindings, nil
}

// discardDominated removes every candidate that is dominated by another:
// A is dominated by B iff every byte B claims as parametric, A also claims,
// and A claims at least one byte B does not (spec.md §4.10 "Anchoring"), so
// the more specific match wins.
func discardDominated(candidates []candidate) []candidate {
	keep := make([]bool, len(candidates))
	for i := range candidates {
		keep[i] = true
	}
	for i, a := range candidates {
		for j, b := range candidates {
			if i == j || !keep[i] {
				continue
			}
			if dominates(b.mask, a.mask) {
				keep[i] = false
				break
			}
		}
	}
	out := make([]candidate, 0, len(candidates))
	for i, c := range candidates {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out
}

// dominates reports whether mask a dominates mask b: every bit set in a is
// also set in b, and b has at least one bit set that a does not (a is the
// more specific match).
func dominates(a, b []bool) bool {
	strictlyMore := false
	for i := range a {
		if a[i] && !b[i] {
			return false
		}
		if b[i] && !a[i] {
			strictlyMore = true
		}
	}
	return strictlyMore
}

// instantiateRule substitutes bindings into a copy of rule's targets,
// dependencies and command text, producing the concrete rule the engine
// will actually build from.
func instantiateRule(rule *Rule, bindings map[string]string) *Rule {
	out := &Rule{
		CommandKind:    rule.CommandKind,
		RedirectIndex:  rule.RedirectIndex,
		RedirectOutput: rule.RedirectOutput,
		Place:          rule.Place,
	}
	out.Targets = make([]Target, len(rule.Targets))
	for i, t := range rule.Targets {
		out.Targets[i] = Target{Kind: t.Kind, Name: substitute(t.Name, bindings), Depth: t.Depth}
	}
	out.Deps = make([]Dep, len(rule.Deps))
	for i, d := range rule.Deps {
		out.Deps[i] = substituteDep(d, bindings)
	}
	out.Command = substitute(rule.Command, bindings)
	out.InputFilename = substitute(rule.InputFilename, bindings)
	return out
}

func substitute(s string, bindings map[string]string) string {
	if !strings.ContainsRune(s, '$') {
		return s
	}
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) {
			name, width := parseParamName(s[i+1:])
			if name != "" {
				if v, ok := bindings[name]; ok {
					b.WriteString(v)
				} else {
					b.WriteString(s[i : i+1+width])
				}
				i += 1 + width
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func substituteDep(d Dep, bindings map[string]string) Dep {
	switch v := d.(type) {
	case PlainDep:
		v.Target = Target{Kind: v.Target.Kind, Name: substitute(v.Target.Name, bindings), Depth: v.Target.Depth}
		v.VariableName = substitute(v.VariableName, bindings)
		return v
	case DynamicDep:
		v.Inner = substituteDep(v.Inner, bindings)
		return v
	case ConcatDep:
		parts := make([]Dep, len(v.Parts))
		for i, p := range v.Parts {
			parts[i] = substituteDep(p, bindings)
		}
		v.Parts = parts
		return v
	case CompoundDep:
		parts := make([]Dep, len(v.Parts))
		for i, p := range v.Parts {
			parts[i] = substituteDep(p, bindings)
		}
		v.Parts = parts
		return v
	default:
		return d
	}
}
