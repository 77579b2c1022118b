package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRuleSetExactLookup(t *testing.T) {
	rs := NewStaticRuleSet()
	rule := &Rule{
		Targets:     []Target{NewFileTarget("a.o")},
		Deps:        []Dep{plain("a.c")},
		Command:     "cc -c a.c -o a.o",
		CommandKind: Shell,
	}
	rs.AddRule(rule)

	got, paramRule, bindings, err := rs.Lookup(NewFileTarget("a.o"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, rule, got)
	assert.Same(t, rule, paramRule)
	assert.Empty(t, bindings)
}

func TestStaticRuleSetLookupMiss(t *testing.T) {
	rs := NewStaticRuleSet()
	got, paramRule, bindings, err := rs.Lookup(NewFileTarget("nope"))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, paramRule)
	assert.Nil(t, bindings)
}

func TestStaticRuleSetParametrizedLookupSubstitutes(t *testing.T) {
	rs := NewStaticRuleSet()
	rule := &Rule{
		Targets:       []Target{NewFileTarget("$name.o")},
		Deps:          []Dep{plain("$name.c")},
		Command:       "cc -c $name.c -o $name.o",
		CommandKind:   Shell,
		RedirectIndex: -1,
		Parameters:    []string{"name"},
	}
	rs.AddRule(rule)

	got, paramRule, bindings, err := rs.Lookup(NewFileTarget("foo.o"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, rule, paramRule)
	assert.Equal(t, "foo", bindings["name"])
	assert.Equal(t, "foo.o", got.Targets[0].Name)
	assert.Equal(t, "cc -c foo.c -o foo.o", got.Command)
	require.Len(t, got.Deps, 1)
	assert.Equal(t, "foo.c", got.Deps[0].(PlainDep).Target.Name)
}

func TestInstantiateRuleCopiesRedirectOutput(t *testing.T) {
	rule := &Rule{
		Targets:        []Target{NewFileTarget("$name.log")},
		Command:        "run $name",
		CommandKind:    Shell,
		RedirectOutput: true,
		RedirectIndex:  -1,
		Parameters:     []string{"name"},
	}
	out := instantiateRule(rule, map[string]string{"name": "foo"})
	assert.True(t, out.RedirectOutput, "instantiateRule must preserve RedirectOutput")
	assert.Equal(t, "run foo", out.Command)
}

func TestAnchoringDominanceDisjointMatchesAreAmbiguous(t *testing.T) {
	rs := NewStaticRuleSet()
	general := &Rule{
		Targets:    []Target{NewFileTarget("$name.o")},
		Command:    "generic $name",
		Parameters: []string{"name"},
	}
	specific := &Rule{
		Targets:    []Target{NewFileTarget("foo.$ext")},
		Command:    "specific foo.$ext",
		Parameters: []string{"ext"},
	}
	rs.AddRule(general)
	rs.AddRule(specific)

	// "foo.o" matches both templates; neither dominates the other (each
	// claims a disjoint byte range), so this should be reported ambiguous.
	_, _, _, err := rs.Lookup(NewFileTarget("foo.o"))
	assert.Error(t, err)
}

func TestAnchoringDominanceOneRuleWins(t *testing.T) {
	rs := NewStaticRuleSet()
	wide := &Rule{
		Targets:    []Target{NewFileTarget("$stem.o")},
		Command:    "wide",
		Parameters: []string{"stem"},
	}
	narrow := &Rule{
		Targets:    []Target{NewFileTarget("foo.o")},
		Command:    "narrow",
	}
	rs.AddRule(wide)
	rs.AddRule(narrow)

	// foo.o has an exact match, which always wins over any parametrized
	// candidate since Lookup checks the exact map first.
	got, _, _, err := rs.Lookup(NewFileTarget("foo.o"))
	require.NoError(t, err)
	assert.Equal(t, "narrow", got.Command)
}

func TestDominatesMask(t *testing.T) {
	a := []bool{true, false, false}
	b := []bool{true, true, false}
	assert.True(t, dominates(a, b))
	assert.False(t, dominates(b, a))
	assert.False(t, dominates(a, a))
}

func TestCompileTemplateParsesBracedAndBareParams(t *testing.T) {
	m := compileTemplate("${name}.o")
	bindings, _, ok := m.match("foo.o")
	require.True(t, ok)
	assert.Equal(t, "foo", bindings["name"])

	m2 := compileTemplate("$name.o")
	bindings2, _, ok2 := m2.match("bar.o")
	require.True(t, ok2)
	assert.Equal(t, "bar", bindings2["name"])
}
