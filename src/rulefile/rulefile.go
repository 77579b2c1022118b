// Package rulefile is a deliberately minimal reference frontend for the
// rule-file syntax spec.md §6 describes as opaque to the core engine.
// Source-text tokenization and full rule parsing are explicitly out of
// scope (spec.md §1: "the build engine consumes a fully parsed RuleSet
// plus an initial dependency list") -- this package exists only so
// src/stu.go has something real to hand the engine, covering the subset
// of syntax spec.md's own worked examples (§8) use. It is not a rendering
// of stu.cc's Parse/Tokenizer/Parser classes (themselves noted in spec.md
// §9 as having vestigial duplicate implementations); it is new code
// grounded on the flag vocabulary spec.md §3/GLOSSARY already fixes.
package rulefile

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/stubuild/stu/src/core"
)

// Load parses data, the contents of filename (used only in error
// messages), and returns the resulting RuleSet. It returns no list of root
// dependencies; a rule named "default" is indexed like any other rule.
func Load(filename string, data []byte) (*core.StaticRuleSet, error) {
	p := &parser{src: string(data), filename: filename, line: 1}
	rs := core.NewStaticRuleSet()
	for {
		p.skipSpaceAndComments()
		if p.eof() {
			break
		}
		rule, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		rs.AddRule(rule)
	}
	return rs, nil
}

// ParseDeps parses a bare dependency list (no target, no command), used
// both to turn CLI target arguments into core.Dep values and to implement
// build.DependencyParser for the default (non-delimited) dynamic-dependency
// markup, which spec.md §6 says reuses "the same 'stu' rule-dependency
// mini-syntax".
func ParseDeps(filename string, data []byte) ([]core.Dep, error) {
	p := &parser{src: string(data), filename: filename, line: 1}
	deps, err := p.parseDepList(map[string]bool{})
	if err != nil {
		return nil, err
	}
	p.skipSpaceAndComments()
	if !p.eof() {
		return nil, p.errorf("unexpected trailing input")
	}
	return deps, nil
}

// ParseDynamic adapts ParseDeps to build.DependencyParser's signature.
type Parser struct{}

func (Parser) ParseDynamic(data []byte, place core.Place) ([]core.Dep, error) {
	return ParseDeps(place.Filename, data)
}

type parser struct {
	src      string
	filename string
	pos      int
	line     int
	lineStart int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) place() core.Place {
	return core.Place{Filename: p.filename, Line: p.line, Column: p.pos - p.lineStart + 1}
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return core.NewLogicalError(p.place(), format, args...)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) advance() byte {
	c := p.src[p.pos]
	p.pos++
	if c == '\n' {
		p.line++
		p.lineStart = p.pos
	}
	return c
}

func (p *parser) skipSpaceAndComments() {
	for !p.eof() {
		c := p.peek()
		if c == '#' {
			for !p.eof() && p.peek() != '\n' {
				p.advance()
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			p.advance()
			continue
		}
		break
	}
}

func isNameStart(c byte) bool {
	return c == '_' || c == '.' || c == '/' || c == '-' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// parseRule parses one "target[, target...] : deps... { command }" or
// "target : deps... ;" entry.
func (p *parser) parseRule() (*core.Rule, error) {
	startPlace := p.place()
	targets, params, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	p.skipSpaceAndComments()
	if p.peek() != ':' {
		return nil, p.errorf("expected ':' after target list")
	}
	p.advance()

	paramSet := map[string]bool{}
	for _, name := range params {
		paramSet[name] = true
	}
	deps, err := p.parseDepList(paramSet)
	if err != nil {
		return nil, err
	}

	rule := &core.Rule{
		Targets:       targets,
		Deps:          deps,
		RedirectIndex: -1,
		Parameters:    params,
		Place:         startPlace,
	}

	p.skipSpaceAndComments()
	switch p.peek() {
	case ';':
		p.advance()
		rule.CommandKind = core.None
	case '{':
		cmd, redirectOutput, err := p.parseCommandBlock()
		if err != nil {
			return nil, err
		}
		rule.Command = cmd
		rule.CommandKind = core.Shell
		rule.RedirectOutput = redirectOutput
	case '=':
		p.advance()
		content, err := p.parseHardcoded()
		if err != nil {
			return nil, err
		}
		rule.Command = content
		rule.CommandKind = core.Hardcoded
	case '<':
		p.advance()
		p.skipSpaceAndComments()
		src, err := p.parseBareName()
		if err != nil {
			return nil, err
		}
		p.skipSpaceAndComments()
		if p.peek() != ';' {
			return nil, p.errorf("expected ';' after copy source")
		}
		p.advance()
		rule.CommandKind = core.Copy
		rule.InputFilename = src
	default:
		return nil, p.errorf("expected ';', '{', '=' or '<' to finish rule for %v", targets)
	}
	return rule, nil
}

// parseTargetList parses "name[, name...]" where each name may embed
// "$param"/"${param}" placeholders; collects the union of parameter names
// seen (spec.md §3: "all targets of a rule share the same parameter set").
func (p *parser) parseTargetList() ([]core.Target, []string, error) {
	var targets []core.Target
	seen := map[string]bool{}
	var params []string
	for {
		p.skipSpaceAndComments()
		transient := false
		if p.peek() == '@' {
			transient = true
			p.advance()
		}
		name, names, err := p.parseTemplateName()
		if err != nil {
			return nil, nil, err
		}
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				params = append(params, n)
			}
		}
		if transient {
			targets = append(targets, core.NewTransientTarget(name))
		} else {
			targets = append(targets, core.NewFileTarget(name))
		}
		p.skipSpaceAndComments()
		if p.peek() == ',' {
			p.advance()
			continue
		}
		break
	}
	return targets, params, nil
}

// parseTemplateName reads a bare name that may contain $name/${name}
// parameter references, returning the raw template string plus the
// parameter names it referenced.
func (p *parser) parseTemplateName() (string, []string, error) {
	var b strings.Builder
	var params []string
	if !isNameStart(p.peek()) && p.peek() != '$' {
		return "", nil, p.errorf("expected a name")
	}
	for !p.eof() {
		c := p.peek()
		if c == '$' {
			b.WriteByte(p.advance())
			if p.peek() == '{' {
				b.WriteByte(p.advance())
				start := p.pos
				for !p.eof() && p.peek() != '}' {
					p.advance()
				}
				if p.eof() {
					return "", nil, p.errorf("unterminated ${...} parameter")
				}
				params = append(params, p.src[start:p.pos])
				b.WriteString(p.src[start:p.pos])
				b.WriteByte(p.advance())
			} else {
				start := p.pos
				for !p.eof() {
					c := p.peek()
					if c != '_' && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
						break
					}
					p.advance()
				}
				params = append(params, p.src[start:p.pos])
				b.WriteString(p.src[start:p.pos])
			}
			continue
		}
		if isNameStart(c) {
			b.WriteByte(p.advance())
			continue
		}
		break
	}
	return b.String(), params, nil
}

func (p *parser) parseBareName() (string, error) {
	name, _, err := p.parseTemplateName()
	return name, err
}

// parseDepList parses a whitespace-separated sequence of dependency
// expressions until it reaches ';', '{', '=', a closing ')' or ']', the end
// of input, or a '<' before any dependency has been parsed.
func (p *parser) parseDepList(params map[string]bool) ([]core.Dep, error) {
	var deps []core.Dep
	for {
		p.skipSpaceAndComments()
		c := p.peek()
		if p.eof() || c == ';' || c == '{' || c == '=' || (c == '<' && len(deps) == 0) || c == ')' || c == ']' {
			break
		}
		dep, err := p.parseDepExpr(params)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// parseDepExpr parses one flagged dependency atom and any "(x)" concat
// suffixes immediately juxtaposed to it (spec.md §3 "Concat").
func (p *parser) parseDepExpr(params map[string]bool) (core.Dep, error) {
	var flags core.Flags
	var places [3]core.Place
	for {
		p.skipSpaceAndComments()
		switch {
		case strings.HasPrefix(p.src[p.pos:], "-p"):
			places[0] = p.place()
			flags |= core.Persistent
			p.pos += 2
		case strings.HasPrefix(p.src[p.pos:], "-o"):
			places[1] = p.place()
			flags |= core.Optional
			p.pos += 2
		case strings.HasPrefix(p.src[p.pos:], "-t"):
			places[2] = p.place()
			flags |= core.Trivial
			p.pos += 2
		case strings.HasPrefix(p.src[p.pos:], "-n"):
			flags |= core.NewlineSeparated
			p.pos += 2
		case p.peek() == '<':
			flags |= core.Input
			p.advance()
		default:
			goto atom
		}
	}
atom:
	p.skipSpaceAndComments()
	dep, err := p.parseDepAtom(params, flags, places)
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek() == '(' {
		next, err := p.parseCompoundOrConcatPart(params)
		if err != nil {
			return nil, err
		}
		dep = core.NewConcatDep(0, [3]core.Place{}, []core.Dep{dep, next})
	}
	return dep, nil
}

func (p *parser) parseCompoundOrConcatPart(params map[string]bool) (core.Dep, error) {
	p.advance() // '('
	inner, err := p.parseDepList(params)
	if err != nil {
		return nil, err
	}
	p.skipSpaceAndComments()
	if p.peek() != ')' {
		return nil, p.errorf("expected ')'")
	}
	p.advance()
	if len(inner) == 1 {
		return inner[0], nil
	}
	return core.NewCompoundDep(0, [3]core.Place{}, inner), nil
}

func (p *parser) parseDepAtom(params map[string]bool, flags core.Flags, places [3]core.Place) (core.Dep, error) {
	switch p.peek() {
	case '[':
		p.advance()
		depList, err := p.parseDepList(params)
		if err != nil {
			return nil, err
		}
		p.skipSpaceAndComments()
		if p.peek() != ']' {
			return nil, p.errorf("expected ']'")
		}
		p.advance()
		var inner core.Dep
		switch len(depList) {
		case 0:
			return nil, p.errorf("empty '[...]' dynamic dependency")
		case 1:
			inner = depList[0]
		default:
			inner = core.NewCompoundDep(0, [3]core.Place{}, depList)
		}
		return core.NewDynamicDep(flags, places, inner), nil

	case '(':
		return p.parseCompoundOrConcatPart(params)

	case '$':
		p.advance()
		if p.peek() != '[' {
			return nil, p.errorf("expected '[' after '$' in variable dependency")
		}
		p.advance()
		varName, err := p.parseBareName()
		if err != nil {
			return nil, err
		}
		p.skipSpaceAndComments()
		if p.peek() != ']' {
			return nil, p.errorf("expected ']' to close '$[...]' variable dependency")
		}
		p.advance()
		name, _, err := p.parseTemplateName()
		if err != nil {
			return nil, err
		}
		target := core.NewFileTarget(name)
		d := core.NewPlainDep(flags|core.Variable, places, target)
		d.VariableName = varName
		d.PlaceParamTarget = name
		return d, nil

	case '@':
		p.advance()
		name, _, err := p.parseTemplateName()
		if err != nil {
			return nil, err
		}
		d := core.NewPlainDep(flags, places, core.NewTransientTarget(name))
		d.PlaceParamTarget = name
		return d, nil

	default:
		name, refs, err := p.parseTemplateName()
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if !params[r] {
				return nil, p.errorf("parameter $%s not bound by any target of this rule", r)
			}
		}
		d := core.NewPlainDep(flags, places, core.NewFileTarget(name))
		d.PlaceParamTarget = name
		return d, nil
	}
}

// parseCommandBlock reads a brace-delimited shell command verbatim,
// tracking brace nesting so nested braces don't end the block early. Quotes
// are not interpreted: a '}' inside a quoted string counts like any other
// brace. A leading '>' right after '{' marks
// RedirectOutput (stdout captured to the target file, spec.md §3
// RedirectIndex/RedirectOutput).
func (p *parser) parseCommandBlock() (string, bool, error) {
	p.advance() // '{'
	redirectOutput := false
	if p.peek() == '>' {
		redirectOutput = true
		p.advance()
	}
	depth := 1
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				cmd := strings.TrimSpace(p.src[start:p.pos])
				p.advance() // '}'
				return cmd, redirectOutput, nil
			}
		}
		p.advance()
	}
	return "", false, p.errorf("unterminated command block")
}

// parseHardcoded reads a "= content ;" hardcoded-output rule body.
func (p *parser) parseHardcoded() (string, error) {
	p.skipSpaceAndComments()
	start := p.pos
	for !p.eof() && p.peek() != ';' {
		p.advance()
	}
	if p.eof() {
		return "", p.errorf("unterminated hardcoded content, expected ';'")
	}
	content := strings.TrimSpace(p.src[start:p.pos])
	p.advance() // ';'
	return content, nil
}

var _ = fmt.Sprintf // keep fmt import when errorf's %v path is trimmed by edits
