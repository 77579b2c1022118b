package core

import "github.com/stubuild/stu/internal/stuerr"

// Normalize expands a possibly-Compound, possibly-nested-Concat dependency
// into the list of normalized dependencies spec.md §4.2 describes: only
// Plain, or Dynamic wrapping a normalized dep, or Concat of normalized
// Plain/Dynamic parts (never another Concat, never a Compound).
//
// Errors encountered during concatenation (see concatPair) are accumulated
// into errs. In keep-going mode expansion continues after an error;
// otherwise Normalize returns the results gathered so far, with the first
// error recorded in errs, and the caller is expected to stop.
func Normalize(d Dep, keepGoing bool, errs *stuerr.Aggregate) []Dep {
	switch v := d.(type) {
	case PlainDep:
		return []Dep{v}

	case DynamicDep:
		inner := Normalize(v.Inner, keepGoing, errs)
		out := make([]Dep, 0, len(inner))
		for _, nd := range inner {
			out = append(out, DynamicDep{depBase: v.depBase, Inner: nd})
		}
		return out

	case CompoundDep:
		out := []Dep{}
		for _, part := range v.Parts {
			child := unionFlagsInto(part, v.flags, v.places)
			out = append(out, Normalize(child, keepGoing, errs)...)
			if errs.HasErrors() && !keepGoing {
				return out
			}
		}
		return out

	case ConcatDep:
		return normalizeConcat(v.Parts, keepGoing, errs)

	case RootDep:
		return []Dep{v}

	default:
		panic("core: unknown Dep variant in Normalize")
	}
}

// unionFlagsInto returns a copy of child with parentFlags/parentPlaces
// unioned in -- but only for placed bits the child does not already carry
// its own place for, so a child's explicit flag placement is never
// silently overwritten by its Compound parent's.
func unionFlagsInto(child Dep, parentFlags Flags, parentPlaces [3]Place) Dep {
	addPlaces := func(places [3]Place, flags Flags) [3]Place {
		for i := 0; i < 3; i++ {
			bit := Flags(1) << uint(i)
			if parentFlags&bit != 0 && flags&bit == 0 && places[i].IsEmpty() {
				places[i] = parentPlaces[i]
			}
		}
		return places
	}
	switch v := child.(type) {
	case PlainDep:
		v.places = addPlaces(v.places, v.flags)
		v.flags |= parentFlags &^ TargetBits // don't let a parent's dynamic/transient bits leak onto an unrelated plain
		return v
	case DynamicDep:
		v.places = addPlaces(v.places, v.flags)
		v.flags |= parentFlags &^ TargetBits
		return v
	case ConcatDep:
		v.places = addPlaces(v.places, v.flags)
		v.flags |= parentFlags &^ TargetBits
		return v
	case CompoundDep:
		v.places = addPlaces(v.places, v.flags)
		v.flags |= parentFlags &^ TargetBits
		return v
	default:
		return child
	}
}

// normalizeConcat implements §4.2.1: for parts p1...pn (n>=2), normalize
// p2..pn to set V2, normalize p1 to set V1, then cartesian-combine.
func normalizeConcat(parts []Dep, keepGoing bool, errs *stuerr.Aggregate) []Dep {
	if len(parts) < 2 {
		// A degenerate single-part Concat (can arise from flattening); just
		// normalize the one part directly.
		if len(parts) == 1 {
			return Normalize(parts[0], keepGoing, errs)
		}
		return nil
	}
	var v2 []Dep
	if len(parts) == 2 {
		v2 = Normalize(parts[1], keepGoing, errs)
	} else {
		v2 = normalizeConcat(parts[1:], keepGoing, errs)
	}
	v1 := Normalize(parts[0], keepGoing, errs)

	out := []Dep{}
	for _, a := range v1 {
		for _, b := range v2 {
			cp, err := concatPair(a, b)
			if err != nil {
				errs.Add(err)
				if !keepGoing {
					return out
				}
				continue
			}
			out = append(out, cp)
		}
	}
	return out
}

// concatPair combines two already-normalized dependencies (a)(b) into one,
// per §4.2.1's rejection rules and the Plain+Plain fast path.
func concatPair(a, b Dep) (Dep, error) {
	if a.Flags().Has(Input) {
		return nil, NewLogicalError(firstPlace(a), "left operand of concatenation must not be an input redirection")
	}
	if b.Flags().Has(Input) {
		return nil, NewLogicalError(firstPlace(b), "right operand of concatenation must not be an input redirection")
	}
	if b.Flags()&Placed != 0 {
		return nil, NewLogicalError(firstPlace(b), "right operand of concatenation must not have a placed flag (-p/-o/-t)")
	}
	if b.Flags().Has(TargetTransient) {
		return nil, NewLogicalError(firstPlace(b), "right operand of concatenation must not be transient")
	}
	if b.Flags().Has(Variable) {
		return nil, NewLogicalError(firstPlace(b), "right operand of concatenation must not be a variable dependency")
	}
	if a.Flags().Has(Variable) {
		return nil, NewLogicalError(firstPlace(a), "left operand of concatenation must not be a variable dependency")
	}

	ap, aIsPlain := a.(PlainDep)
	bp, bIsPlain := b.(PlainDep)
	if aIsPlain && bIsPlain {
		transient := ap.Flags().Has(TargetTransient) || bp.Flags().Has(TargetTransient)
		kind := File
		if transient {
			kind = Transient
		}
		target := Target{Kind: kind, Name: ap.Target.Name + bp.Target.Name}
		flags := ap.Flags() | bp.Flags()
		places := mergePlaces(ap.places, bp.places)
		return PlainDep{depBase: depBase{flags: flags, places: places}, Target: target}, nil
	}

	parts := flattenConcatParts(a, b)
	return ConcatDep{Parts: parts}, nil
}

func flattenConcatParts(a, b Dep) []Dep {
	parts := []Dep{}
	if ac, ok := a.(ConcatDep); ok {
		parts = append(parts, ac.Parts...)
	} else {
		parts = append(parts, a)
	}
	if bc, ok := b.(ConcatDep); ok {
		parts = append(parts, bc.Parts...)
	} else {
		parts = append(parts, b)
	}
	return parts
}

func mergePlaces(a, b [3]Place) [3]Place {
	out := a
	for i := 0; i < 3; i++ {
		if out[i].IsEmpty() {
			out[i] = b[i]
		}
	}
	return out
}

func firstPlace(d Dep) Place {
	places := d.Places()
	for _, p := range places {
		if !p.IsEmpty() {
			return p
		}
	}
	return NoPlace
}
