package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stubuild/stu/internal/stuerr"
)

func plain(name string) PlainDep {
	return NewPlainDep(0, [3]Place{}, NewFileTarget(name))
}

func TestNormalizePlainIsIdempotent(t *testing.T) {
	var errs stuerr.Aggregate
	d := plain("a.c")
	out := Normalize(d, false, &errs)
	require.Len(t, out, 1)
	assert.Equal(t, d, out[0])
	assert.False(t, errs.HasErrors())
}

func TestNormalizeDynamicWrapsInner(t *testing.T) {
	var errs stuerr.Aggregate
	d := NewDynamicDep(0, [3]Place{}, plain("a.c"))
	out := Normalize(d, false, &errs)
	require.Len(t, out, 1)
	dyn, ok := out[0].(DynamicDep)
	require.True(t, ok)
	assert.Equal(t, plain("a.c"), dyn.Inner)
}

func TestNormalizeCompoundFlattensAndInheritsFlags(t *testing.T) {
	var errs stuerr.Aggregate
	var places [3]Place
	places[IOptional] = Place{Filename: "x.stu", Line: 3}
	compound := NewCompoundDep(Optional, places, []Dep{plain("a.c"), plain("b.c")})
	out := Normalize(compound, false, &errs)
	require.Len(t, out, 2)
	for _, d := range out {
		assert.True(t, d.Flags().Has(Optional))
	}
}

func TestNormalizeCompoundDoesNotOverwriteChildsOwnPlace(t *testing.T) {
	var errs stuerr.Aggregate
	childPlaces := [3]Place{}
	childPlaces[IOptional] = Place{Filename: "child.stu", Line: 1}
	child := NewPlainDep(Optional, childPlaces, NewFileTarget("a.c"))

	parentPlaces := [3]Place{}
	parentPlaces[IOptional] = Place{Filename: "parent.stu", Line: 9}
	compound := NewCompoundDep(Optional, parentPlaces, []Dep{child})

	out := Normalize(compound, false, &errs)
	require.Len(t, out, 1)
	got := out[0].(PlainDep)
	assert.Equal(t, "child.stu", got.Places()[IOptional].Filename)
}

func TestNormalizeConcatOfTwoPlainsCollapses(t *testing.T) {
	var errs stuerr.Aggregate
	concat := NewConcatDep(0, [3]Place{}, []Dep{plain("foo"), plain(".c")})
	out := Normalize(concat, false, &errs)
	require.Len(t, out, 1)
	got, ok := out[0].(PlainDep)
	require.True(t, ok)
	assert.Equal(t, "foo.c", got.Target.Name)
	assert.False(t, errs.HasErrors())
}

func TestNormalizeConcatCartesianProduct(t *testing.T) {
	var errs stuerr.Aggregate
	left := NewCompoundDep(0, [3]Place{}, []Dep{plain("a"), plain("b")})
	right := NewCompoundDep(0, [3]Place{}, []Dep{plain("1"), plain("2")})
	concat := NewConcatDep(0, [3]Place{}, []Dep{left, right})
	out := Normalize(concat, false, &errs)
	require.Len(t, out, 4)
	names := map[string]bool{}
	for _, d := range out {
		names[d.(PlainDep).Target.Name] = true
	}
	assert.True(t, names["a1"])
	assert.True(t, names["a2"])
	assert.True(t, names["b1"])
	assert.True(t, names["b2"])
}

func TestNormalizeConcatRejectsPlacedRightOperand(t *testing.T) {
	var errs stuerr.Aggregate
	var places [3]Place
	places[IOptional] = Place{Filename: "x.stu", Line: 1}
	right := NewPlainDep(Optional, places, NewFileTarget("b"))
	concat := NewConcatDep(0, [3]Place{}, []Dep{plain("a"), right})
	out := Normalize(concat, true, &errs)
	assert.Empty(t, out)
	assert.True(t, errs.HasErrors())
}

func TestNormalizeConcatRejectsTransientRightOperand(t *testing.T) {
	var errs stuerr.Aggregate
	right := NewPlainDep(0, [3]Place{}, NewTransientTarget("b"))
	concat := NewConcatDep(0, [3]Place{}, []Dep{plain("a"), right})
	out := Normalize(concat, true, &errs)
	assert.Empty(t, out)
	assert.True(t, errs.HasErrors())
}

func TestNormalizeConcatRejectsInputOperand(t *testing.T) {
	var errs stuerr.Aggregate
	left := NewPlainDep(Input, [3]Place{}, NewFileTarget("a"))
	concat := NewConcatDep(0, [3]Place{}, []Dep{left, plain("b")})
	out := Normalize(concat, true, &errs)
	assert.Empty(t, out)
	assert.True(t, errs.HasErrors())
}

func TestNormalizeConcatKeepGoingAccumulatesAndContinues(t *testing.T) {
	var errs stuerr.Aggregate
	badRight := NewPlainDep(0, [3]Place{}, NewTransientTarget("bad"))
	left := NewCompoundDep(0, [3]Place{}, []Dep{plain("a"), plain("b")})
	right := NewCompoundDep(0, [3]Place{}, []Dep{plain("ok"), badRight})
	concat := NewConcatDep(0, [3]Place{}, []Dep{left, right})
	out := Normalize(concat, true, &errs)
	// a+ok and b+ok should succeed; a+bad and b+bad should each add an error.
	require.Len(t, out, 2)
	assert.True(t, errs.HasErrors())
}
