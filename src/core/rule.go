package core

// CommandKind distinguishes how a Rule's single recipe is executed.
type CommandKind int

const (
	// Shell runs Command through the configured shell (§4.4 step 15, §4.7).
	Shell CommandKind = iota
	// Hardcoded writes Command's literal bytes to the target file atomically
	// (§4.7 "Hardcoded"); no subprocess is spawned.
	Hardcoded
	// Copy spawns "cp --" from InputFilename to the target.
	Copy
	// None means the rule exists only to declare dependencies; once they are
	// all satisfied the target is simply marked done (§4.4 step 10).
	None
)

func (k CommandKind) String() string {
	switch k {
	case Hardcoded:
		return "hardcoded"
	case Copy:
		return "copy"
	case None:
		return "none"
	default:
		return "shell"
	}
}

// Rule is one parsed-and-indexed build rule (spec.md §3). The engine never
// constructs these from source text itself -- that's the out-of-scope
// tokenizer/parser collaborator -- it only consumes them via RuleSet.Lookup.
type Rule struct {
	// Targets are the target(s) this rule produces; all must share the same
	// Parameters set (spec.md §3 invariant).
	Targets []Target
	// Deps are this rule's declared dependencies, pre-normalization.
	Deps []Dep
	// Command is the shell snippet (Shell), literal content (Hardcoded), or
	// unused (Copy, None).
	Command string
	// CommandKind selects how Command is interpreted.
	CommandKind CommandKind
	// RedirectIndex is the index into Deps of the '<' input-redirected
	// dependency, or -1 if there is none.
	RedirectIndex int
	// RedirectOutput marks a rule declared with '>': the command's stdout
	// is captured to the (single) target file instead of the command
	// creating it itself.
	RedirectOutput bool
	// InputFilename names the source file for a Copy rule.
	InputFilename string
	// Parameters are the $name parameters that may appear in Targets, Deps
	// and Command, before instantiation binds them to concrete strings.
	Parameters []string
	// Place is the rule's own source location, for cycle/error traces.
	Place Place
}

// HasCommand reports whether executing this rule means running something
// (Shell, Hardcoded or Copy), as opposed to None which just forces its
// dependencies.
func (r *Rule) HasCommand() bool {
	return r != nil && r.CommandKind != None
}
