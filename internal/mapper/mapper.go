package mapper

import (
	"fmt"
	"sort"

	"github.com/xrash/smetrics"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/logging"
	"dbrewind/internal/schema"
)

// DefaultSimilarityThreshold is the minimum Jaro-Winkler similarity for a
// fuzzy field-name match in phase 2(c).
const DefaultSimilarityThreshold = 0.84

// Overrides carries caller-supplied manual rules, keyed by table then
// target field.
type Overrides map[string]map[string]Override

// VersionRuleSets holds the inferred rule sets for every table shared
// between one source and one target schema version.
type VersionRuleSets struct {
	SourceVersion string
	TargetVersion string
	Tables        map[string]*RuleSet
}

// Coverage returns the aggregate coverage score over all tables. As with
// RuleSet.Coverage, Drop rules do not count as resolved.
func (v *VersionRuleSets) Coverage() float64 {
	total, resolved := 0, 0
	for _, rs := range v.Tables {
		total += len(rs.Target.Fields)
		for _, rule := range rs.Rules {
			if rule.Kind != RuleDrop {
				resolved++
			}
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(resolved) / float64(total)
}

// WithOverrides returns a copy of the rule sets with the given manual
// overrides applied. An override always wins over an inferred rule and
// removes the field from the unresolved list.
func (v *VersionRuleSets) WithOverrides(overrides Overrides) *VersionRuleSets {
	if len(overrides) == 0 {
		return v
	}

	out := &VersionRuleSets{
		SourceVersion: v.SourceVersion,
		TargetVersion: v.TargetVersion,
		Tables:        make(map[string]*RuleSet, len(v.Tables)),
	}
	for name, rs := range v.Tables {
		clone := &RuleSet{
			Table:         rs.Table,
			SourceVersion: rs.SourceVersion,
			TargetVersion: rs.TargetVersion,
			Rules:         make(map[string]Rule, len(rs.Rules)),
			Unresolved:    append([]string(nil), rs.Unresolved...),
			Target:        rs.Target,
			Source:        rs.Source,
		}
		for field, rule := range rs.Rules {
			clone.Rules[field] = rule
		}

		for field, override := range overrides[name] {
			if _, ok := clone.Target.Field(field); !ok {
				continue
			}
			clone.Rules[field] = Rule{Kind: RuleManualOverride, Override: override}
			clone.Unresolved = removeString(clone.Unresolved, field)
		}
		out.Tables[name] = clone
	}
	return out
}

// Mapper infers transformation rules from a schema diff using three phases:
// exact structural match, heuristic rename/coerce match, and
// default/structural fallback.
type Mapper struct {
	SimilarityThreshold float64
	logger              *logging.Logger
}

// NewMapper creates a mapper with the default similarity threshold.
func NewMapper() *Mapper {
	return NewMapperWithLogger(logging.NewNopLogger())
}

// NewMapperWithLogger creates a mapper with the given logger.
func NewMapperWithLogger(logger *logging.Logger) *Mapper {
	return &Mapper{SimilarityThreshold: DefaultSimilarityThreshold, logger: logger}
}

// Infer produces rule sets for every table present in both versions of the
// diff. Tables only present in the target have no source rows to map and
// produce no rule set; tables only present in the source are dropped.
func (m *Mapper) Infer(diff *schema.Diff) (*VersionRuleSets, error) {
	out := &VersionRuleSets{
		SourceVersion: diff.SourceVersion,
		TargetVersion: diff.TargetVersion,
		Tables:        make(map[string]*RuleSet, len(diff.CommonTables)),
	}

	for i := range diff.CommonTables {
		td := &diff.CommonTables[i]
		rs, err := m.inferTable(td, diff.SourceVersion, diff.TargetVersion)
		if err != nil {
			return nil, err
		}
		out.Tables[td.Table] = rs
	}

	m.cascadeForeignKeys(out)

	for _, rs := range out.Tables {
		m.logger.WithFields(map[string]interface{}{
			"table":      rs.Table,
			"coverage":   rs.Coverage(),
			"unresolved": len(rs.Unresolved),
		}).Debug("Inferred mapping rules")
	}

	return out, nil
}

// inferTable runs the three inference phases for one table.
func (m *Mapper) inferTable(td *schema.TableDiff, srcVersion, dstVersion string) (*RuleSet, error) {
	rs := &RuleSet{
		Table:         td.Table,
		SourceVersion: srcVersion,
		TargetVersion: dstVersion,
		Rules:         make(map[string]Rule),
		Target:        td.Target,
		Source:        td.Source,
	}
	consumed := make(map[string]bool)

	// Phase 1: exact structural match on name, type and nullability.
	for i := range td.Target.Fields {
		field := &td.Target.Fields[i]
		src, ok := td.Source.Field(field.Name)
		if ok && src.Type == field.Type && src.Nullable == field.Nullable {
			rs.Rules[field.Name] = Rule{Kind: RuleDirectCopy, SourceField: src.Name, Confidence: 1.0}
			consumed[src.Name] = true
		}
	}

	// Phase 2: heuristic rename/coerce match for the remainder.
	for i := range td.Target.Fields {
		field := &td.Target.Fields[i]
		if _, done := rs.Rules[field.Name]; done {
			continue
		}
		rule, err := m.heuristicMatch(td, field, consumed)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rs.Rules[field.Name] = *rule
			consumed[rule.SourceField] = true
		}
	}

	// Phase 3: default / nullable fallback. Foreign-key cascade runs as a
	// separate pass once every table's rules exist.
	for i := range td.Target.Fields {
		field := &td.Target.Fields[i]
		if _, done := rs.Rules[field.Name]; done {
			continue
		}
		switch {
		case field.HasDefault():
			value, err := ParseDefault(field.Type, *field.Default)
			if err != nil {
				return nil, apperrors.New(apperrors.KindSchemaInvalid,
					fmt.Sprintf("table %s field %s has malformed default", td.Table, field.Name), err)
			}
			rs.Rules[field.Name] = Rule{Kind: RuleDefaultFill, Default: value}
		case field.Nullable:
			rs.Rules[field.Name] = Rule{Kind: RuleDefaultFill, Default: nil}
		default:
			rs.Unresolved = append(rs.Unresolved, field.Name)
		}
	}

	sort.Strings(rs.Unresolved)
	return rs, nil
}

// heuristicMatch attempts the phase 2 match priorities in order: identical
// semantic tag, identical name with a lossless conversion, fuzzy name
// similarity with identical type. A nil rule with nil error means no match.
func (m *Mapper) heuristicMatch(td *schema.TableDiff, field *schema.FieldDef, consumed map[string]bool) (*Rule, error) {
	// (a) identical semantic tag
	if field.Tag != "" {
		var matches []*schema.FieldDef
		for i := range td.Source.Fields {
			src := &td.Source.Fields[i]
			if !consumed[src.Name] && src.Tag == field.Tag {
				matches = append(matches, src)
			}
		}
		if len(matches) > 1 {
			return nil, ambiguousMatch(td.Table, field.Name, matches)
		}
		if len(matches) == 1 {
			src := matches[0]
			if src.Type == field.Type {
				kind := RuleRename
				if src.Name == field.Name {
					kind = RuleDirectCopy
				}
				return &Rule{Kind: kind, SourceField: src.Name, Confidence: 1.0}, nil
			}
			if coercion, ok := FindCoercion(src.Type, field.Type, true); ok {
				return &Rule{Kind: RuleTypeCoerce, SourceField: src.Name, CoercionID: coercion.ID, Confidence: 0.95}, nil
			}
		}
	}

	// (b) identical name, differing type, lossless conversion
	if src, ok := td.Source.Field(field.Name); ok && !consumed[src.Name] && src.Type != field.Type {
		if coercion, ok := FindCoercion(src.Type, field.Type, true); ok {
			return &Rule{Kind: RuleTypeCoerce, SourceField: src.Name, CoercionID: coercion.ID, Confidence: 0.9}, nil
		}
	}

	// (c) fuzzy name similarity with identical type
	var best, second float64
	var bestField, secondField *schema.FieldDef
	for i := range td.Source.Fields {
		src := &td.Source.Fields[i]
		if consumed[src.Name] || src.Type != field.Type {
			continue
		}
		score := smetrics.JaroWinkler(field.Name, src.Name, 0.7, 4)
		if score > best {
			second, secondField = best, bestField
			best, bestField = score, src
		} else if score > second {
			second, secondField = score, src
		}
	}
	if bestField != nil && best >= m.SimilarityThreshold {
		if secondField != nil && second == best {
			return nil, ambiguousMatch(td.Table, field.Name, []*schema.FieldDef{bestField, secondField})
		}
		return &Rule{Kind: RuleRename, SourceField: bestField.Name, Confidence: best}, nil
	}

	return nil, nil
}

// cascadeForeignKeys resolves remaining unresolved foreign-key fields by
// mapping them the way the referenced parent table's primary key was mapped.
func (m *Mapper) cascadeForeignKeys(sets *VersionRuleSets) {
	for _, rs := range sets.Tables {
		for _, fieldName := range append([]string(nil), rs.Unresolved...) {
			field, _ := rs.Target.Field(fieldName)
			fk, ok := rs.Target.ForeignKey(fieldName)
			if !ok {
				continue
			}
			parent, ok := sets.Tables[fk.RefTable]
			if !ok {
				continue
			}
			parentRule, ok := parent.Rules[fk.RefField]
			if !ok || parentRule.SourceField == "" {
				continue
			}

			// Find the source-side child field that referenced the parent's
			// source-side key.
			src := findSourceForeignKey(rs.Source, fk.RefTable, parentRule.SourceField)
			if src == nil {
				continue
			}

			rule := Rule{Kind: RuleRename, SourceField: src.Name, Confidence: 0.9}
			if src.Name == field.Name {
				rule.Kind = RuleDirectCopy
			}
			if parentRule.Kind == RuleTypeCoerce {
				rule.Kind = RuleTypeCoerce
				rule.CoercionID = parentRule.CoercionID
			}
			rs.Rules[fieldName] = rule
			rs.Unresolved = removeString(rs.Unresolved, fieldName)
		}
	}
}

// findSourceForeignKey returns the source table field whose foreign key
// points at the given parent table and field.
func findSourceForeignKey(table *schema.TableDef, refTable, refField string) *schema.FieldDef {
	for _, fk := range table.ForeignKeys {
		if fk.RefTable == refTable && fk.RefField == refField {
			if field, ok := table.Field(fk.Field); ok {
				return field
			}
		}
	}
	return nil
}

func ambiguousMatch(table, field string, candidates []*schema.FieldDef) error {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	sort.Strings(names)
	return apperrors.Errorf(apperrors.KindAmbiguousMatch,
		"table %s field %s: equally scored source candidates %v", table, field, names).
		WithContext("table", table).
		WithContext("field", field).
		WithContext("candidates", names)
}

func removeString(list []string, value string) []string {
	out := list[:0]
	for _, item := range list {
		if item != value {
			out = append(out, item)
		}
	}
	return out
}
