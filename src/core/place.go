package core

import "fmt"

// A Place is a source location, used purely for diagnostics: it lets an
// error message point back at the rule-file line that introduced a
// dependency, the way Stu's own diagnostics always quote "<file>:<line>".
type Place struct {
	Filename string
	Line     int
	Column   int
}

// NoPlace is the zero Place; used where no source location is available
// (e.g. dependencies synthesized internally rather than parsed).
var NoPlace = Place{}

// IsEmpty reports whether this Place carries no location information.
func (p Place) IsEmpty() bool {
	return p.Filename == "" && p.Line == 0
}

func (p Place) String() string {
	if p.IsEmpty() {
		return "<internal>"
	}
	if p.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", p.Filename, p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d", p.Filename, p.Line)
}
