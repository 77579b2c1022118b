package build

import (
	"bytes"
	"os"
	"strings"

	"github.com/stubuild/stu/src/core"
)

// DependencyParser parses the default (non-delimited) dynamic-dependency
// markup -- the same "stu" rule-dependency mini-syntax used in rule files,
// just applied to a data file's content instead of a rule's declaration.
// Tokenizing/parsing that syntax is the out-of-scope collaborator spec.md
// §1 calls out; the engine only needs this narrow surface from it.
type DependencyParser interface {
	ParseDynamic(data []byte, place core.Place) ([]core.Dep, error)
}

// readDynamic implements spec.md §4.8: treats target's file content as
// source text yielding a dependency list, honoring the -n/-0 delimited
// format when flags request it and otherwise delegating to parser for the
// full markup. Each parsed dep is wrapped with one Dynamic layer per
// remaining dynamic level of parent (parentRemainingDepth); the parent's
// placed-flag places are not copied onto the parsed deps.
func readDynamic(path string, flags core.Flags, parser DependencyParser, parentRemainingDepth int, noVariable bool) ([]core.Dep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewBuildError(core.NoPlace, path, "reading dynamic dependency file: %v", err)
	}

	var deps []core.Dep
	switch {
	case flags.Has(core.NewlineSeparated):
		deps, err = parseDelimited(data, '\n', path)
	case flags.Has(core.NulSeparated):
		deps, err = parseDelimited(data, 0, path)
	default:
		if parser == nil {
			return nil, core.NewLogicalError(core.NoPlace, "no dependency parser configured for default dynamic-dependency markup in %s", path)
		}
		deps, err = parser.ParseDynamic(data, core.Place{Filename: path})
	}
	if err != nil {
		return nil, err
	}

	out := make([]core.Dep, 0, len(deps))
	for _, d := range deps {
		if d.Flags().Has(core.Input) {
			return nil, core.NewLogicalError(core.NoPlace, "dynamic dependency %s must not use input redirection", d)
		}
		if noVariable && d.Flags().Has(core.Variable) {
			return nil, core.NewLogicalError(core.NoPlace, "dynamic dependency %s at depth >1 must not be a variable dependency", d)
		}
		if hasParameter(d) {
			return nil, core.NewLogicalError(core.NoPlace, "dynamic dependency %s must not contain parameters", d)
		}
		wrapped := d
		for i := 0; i < parentRemainingDepth; i++ {
			wrapped = core.NewDynamicDep(0, [3]core.Place{}, wrapped)
		}
		out = append(out, wrapped)
	}
	return out, nil
}

// hasParameter reports whether d (or anything it wraps/contains) still has
// an unbound $name in its target name -- dynamic dependency files must be
// fully ground (spec.md §4.8 "No parameters in the parsed dependencies").
func hasParameter(d core.Dep) bool {
	switch v := d.(type) {
	case core.PlainDep:
		return strings.ContainsRune(v.Target.Name, '$')
	case core.DynamicDep:
		return hasParameter(v.Inner)
	case core.ConcatDep:
		for _, p := range v.Parts {
			if hasParameter(p) {
				return true
			}
		}
	case core.CompoundDep:
		for _, p := range v.Parts {
			if hasParameter(p) {
				return true
			}
		}
	}
	return false
}

// parseDelimited implements the §6 "Delimited dynamic dependency file"
// format: one filename per record, separated by delim ('\n' or 0). Empty
// records are errors; NUL-delimited records containing an embedded NUL are
// impossible by construction of bytes.Split on 0, so that failure mode is
// naturally excluded rather than checked for explicitly.
func parseDelimited(data []byte, delim byte, path string) ([]core.Dep, error) {
	if len(data) == 0 {
		return nil, nil
	}
	trimmed := data
	if trimmed[len(trimmed)-1] == delim {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		return nil, nil
	}
	records := bytes.Split(trimmed, []byte{delim})
	deps := make([]core.Dep, 0, len(records))
	for _, r := range records {
		if len(r) == 0 {
			return nil, core.NewBuildError(core.NoPlace, path, "empty record in delimited dynamic dependency file")
		}
		deps = append(deps, core.NewPlainDep(0, [3]core.Place{}, core.NewFileTarget(string(r))))
	}
	return deps, nil
}
