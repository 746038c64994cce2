package mapper

import (
	"sort"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/source"
)

// ComposeChain folds pairwise rule sets along a version path into one
// composite rule set mapping the first version directly onto the last.
// Composition is a pure function over the closed rule variants; any step
// that cannot be represented fails with KindUnsupportedCoercionChain.
func ComposeChain(sets []*VersionRuleSets) (*VersionRuleSets, error) {
	if len(sets) == 0 {
		return nil, apperrors.Errorf(apperrors.KindNoMigrationPath, "empty rule set chain")
	}

	composite := sets[0]
	for _, next := range sets[1:] {
		folded, err := composePair(composite, next)
		if err != nil {
			return nil, err
		}
		composite = folded
	}
	return composite, nil
}

// composePair composes rule sets for A->B with rule sets for B->C into
// rule sets for A->C. Only tables present in both steps survive; a table
// absent mid-chain has no data lineage back to the source version.
func composePair(first, second *VersionRuleSets) (*VersionRuleSets, error) {
	out := &VersionRuleSets{
		SourceVersion: first.SourceVersion,
		TargetVersion: second.TargetVersion,
		Tables:        make(map[string]*RuleSet),
	}

	for name, rsSecond := range second.Tables {
		rsFirst, ok := first.Tables[name]
		if !ok {
			continue
		}
		composed, err := composeTable(rsFirst, rsSecond)
		if err != nil {
			return nil, err
		}
		out.Tables[name] = composed
	}

	return out, nil
}

func composeTable(first, second *RuleSet) (*RuleSet, error) {
	out := &RuleSet{
		Table:         second.Table,
		SourceVersion: first.SourceVersion,
		TargetVersion: second.TargetVersion,
		Rules:         make(map[string]Rule, len(second.Rules)),
		Unresolved:    append([]string(nil), second.Unresolved...),
		Target:        second.Target,
		Source:        first.Source,
	}

	for field, late := range second.Rules {
		switch late.Kind {
		case RuleDefaultFill, RuleDrop, RuleManualOverride:
			// Independent of earlier lineage.
			out.Rules[field] = late
		case RuleDirectCopy, RuleRename, RuleTypeCoerce:
			early, ok := first.Rules[late.SourceField]
			if !ok {
				out.Unresolved = append(out.Unresolved, field)
				continue
			}
			composed, err := composeRules(early, late, second.Table, field)
			if err != nil {
				return nil, err
			}
			if composed != nil {
				out.Rules[field] = *composed
			} else {
				out.Unresolved = append(out.Unresolved, field)
			}
		}
	}

	sort.Strings(out.Unresolved)
	return out, nil
}

// composeRules merges one early rule (A->B) feeding one late rule (B->C).
// A nil result with nil error marks the field unresolved.
func composeRules(early, late Rule, table, field string) (*Rule, error) {
	confidence := minConfidence(early.Confidence, late.Confidence)

	switch early.Kind {
	case RuleDrop:
		// Any Drop in the chain makes the composite Drop.
		return &Rule{Kind: RuleDrop}, nil

	case RuleDefaultFill:
		value := early.Default
		if late.Kind == RuleTypeCoerce {
			coercion, ok := Coercion(late.CoercionID)
			if !ok {
				return nil, unsupportedChain(table, field, early, late)
			}
			coerced, err := coercion.Fn(value)
			if err != nil {
				return nil, apperrors.New(apperrors.KindUnsupportedCoercionChain,
					"composed default value does not survive coercion", err).
					WithContext("table", table).WithContext("field", field)
			}
			value = coerced
		}
		return &Rule{Kind: RuleDefaultFill, Default: value}, nil

	case RuleManualOverride:
		override := early.Override
		if late.Kind == RuleTypeCoerce {
			coercion, ok := Coercion(late.CoercionID)
			if !ok {
				return nil, unsupportedChain(table, field, early, late)
			}
			inner := override
			override = OverrideFunc(func(row source.Row) (interface{}, error) {
				value, err := inner.Transform(row)
				if err != nil {
					return nil, err
				}
				return coercion.Fn(value)
			})
		}
		return &Rule{Kind: RuleManualOverride, Override: override}, nil

	case RuleDirectCopy, RuleRename:
		switch late.Kind {
		case RuleDirectCopy, RuleRename:
			return plainCopy(early.SourceField, field, confidence), nil
		case RuleTypeCoerce:
			return &Rule{Kind: RuleTypeCoerce, SourceField: early.SourceField,
				CoercionID: late.CoercionID, Confidence: confidence}, nil
		}

	case RuleTypeCoerce:
		earlyCoercion, ok := Coercion(early.CoercionID)
		if !ok {
			return nil, unsupportedChain(table, field, early, late)
		}
		switch late.Kind {
		case RuleDirectCopy, RuleRename:
			return &Rule{Kind: RuleTypeCoerce, SourceField: early.SourceField,
				CoercionID: early.CoercionID, Confidence: confidence}, nil
		case RuleTypeCoerce:
			lateCoercion, ok := Coercion(late.CoercionID)
			if !ok {
				return nil, unsupportedChain(table, field, early, late)
			}
			// Collapse A->B->C into a single registered A->C conversion.
			if earlyCoercion.From == lateCoercion.To {
				return plainCopy(early.SourceField, field, confidence), nil
			}
			direct, ok := FindCoercion(earlyCoercion.From, lateCoercion.To, false)
			if !ok {
				return nil, unsupportedChain(table, field, early, late)
			}
			return &Rule{Kind: RuleTypeCoerce, SourceField: early.SourceField,
				CoercionID: direct.ID, Confidence: confidence}, nil
		}
	}

	return nil, nil
}

func plainCopy(sourceField, targetField string, confidence float64) *Rule {
	kind := RuleRename
	if sourceField == targetField {
		kind = RuleDirectCopy
	}
	return &Rule{Kind: kind, SourceField: sourceField, Confidence: confidence}
}

func minConfidence(a, b float64) float64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func unsupportedChain(table, field string, early, late Rule) error {
	return apperrors.Errorf(apperrors.KindUnsupportedCoercionChain,
		"table %s field %s: cannot compose %s(%s) with %s(%s)",
		table, field, early.Kind, early.CoercionID, late.Kind, late.CoercionID).
		WithContext("table", table).
		WithContext("field", field)
}
