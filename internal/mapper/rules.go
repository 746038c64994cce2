package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/schema"
	"dbrewind/internal/source"
)

// RuleKind identifies the transformation variant applied to one target field.
type RuleKind string

const (
	// RuleDirectCopy copies the identically named source field unchanged
	RuleDirectCopy RuleKind = "direct_copy"
	// RuleRename copies a differently named source field unchanged
	RuleRename RuleKind = "rename"
	// RuleTypeCoerce copies a source field through a type conversion
	RuleTypeCoerce RuleKind = "type_coerce"
	// RuleDefaultFill populates the target field with a constant (or null)
	RuleDefaultFill RuleKind = "default_fill"
	// RuleDrop leaves the target field unpopulated
	RuleDrop RuleKind = "drop"
	// RuleManualOverride delegates to a caller-supplied transform
	RuleManualOverride RuleKind = "manual_override"
)

// Override is a caller-supplied transformation for one target field. It
// receives the full source row and returns the target value.
type Override interface {
	Transform(row source.Row) (interface{}, error)
}

// OverrideFunc adapts a plain function to the Override interface.
type OverrideFunc func(row source.Row) (interface{}, error)

// Transform implements Override
func (f OverrideFunc) Transform(row source.Row) (interface{}, error) { return f(row) }

// Rule is one resolved transformation unit for a single target field.
type Rule struct {
	Kind        RuleKind    `json:"kind"`
	SourceField string      `json:"source_field,omitempty"`
	CoercionID  string      `json:"coercion_id,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Confidence  float64     `json:"confidence,omitempty"`
	Override    Override    `json:"-"`
}

// Apply evaluates the rule against one source row.
func (r *Rule) Apply(row source.Row) (interface{}, error) {
	switch r.Kind {
	case RuleDirectCopy, RuleRename:
		return row[r.SourceField], nil
	case RuleTypeCoerce:
		coercion, ok := Coercion(r.CoercionID)
		if !ok {
			return nil, apperrors.Errorf(apperrors.KindUnsupportedCoercionChain,
				"unknown coercion %s", r.CoercionID)
		}
		value, err := coercion.Fn(row[r.SourceField])
		if err != nil {
			return nil, apperrors.New(apperrors.KindRowCoercion,
				fmt.Sprintf("cannot coerce field %s", r.SourceField), err)
		}
		return value, nil
	case RuleDefaultFill:
		return r.Default, nil
	case RuleDrop:
		return nil, nil
	case RuleManualOverride:
		if r.Override == nil {
			return nil, fmt.Errorf("manual override rule has no transform")
		}
		return r.Override.Transform(row)
	default:
		return nil, fmt.Errorf("unknown rule kind %s", r.Kind)
	}
}

// RuleSet maps every target field of one table to its resolved rule.
// Unresolved lists target fields for which no rule could be inferred; they
// surface as coverage gaps.
type RuleSet struct {
	Table         string           `json:"table"`
	SourceVersion string           `json:"source_version"`
	TargetVersion string           `json:"target_version"`
	Rules         map[string]Rule  `json:"rules"`
	Unresolved    []string         `json:"unresolved,omitempty"`
	Target        *schema.TableDef `json:"-"`
	Source        *schema.TableDef `json:"-"`
}

// Coverage returns resolved-field-count / total-target-field-count. Drop
// rules do not count as resolved: the field receives no source data, so
// reporting it as covered would overstate what the restore preserves.
func (rs *RuleSet) Coverage() float64 {
	total := len(rs.Target.Fields)
	if total == 0 {
		return 1.0
	}
	resolved := 0
	for _, rule := range rs.Rules {
		if rule.Kind != RuleDrop {
			resolved++
		}
	}
	return float64(resolved) / float64(total)
}

// Gaps returns the unresolved target fields, plus every non-nullable field
// without a default whose rule is Drop. These are hard validation failures.
func (rs *RuleSet) Gaps() []string {
	gaps := append([]string(nil), rs.Unresolved...)
	for i := range rs.Target.Fields {
		field := &rs.Target.Fields[i]
		rule, ok := rs.Rules[field.Name]
		if ok && rule.Kind == RuleDrop && !field.Nullable && !field.HasDefault() {
			gaps = append(gaps, field.Name)
		}
	}
	sort.Strings(gaps)
	return gaps
}

// Validate enforces the coverage invariant: every non-nullable target field
// without a default must carry a resolved rule of a kind other than Drop.
func (rs *RuleSet) Validate() error {
	var missing []string
	for i := range rs.Target.Fields {
		field := &rs.Target.Fields[i]
		if field.Nullable || field.HasDefault() {
			continue
		}
		rule, ok := rs.Rules[field.Name]
		if !ok || rule.Kind == RuleDrop {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperrors.Errorf(apperrors.KindCoverageGap,
			"table %s: non-nullable fields without a resolved rule: %v", rs.Table, missing).
			WithContext("table", rs.Table).
			WithContext("fields", missing)
	}
	return nil
}

// CoercionFunc converts a single value, failing on per-row bad data.
type CoercionFunc func(interface{}) (interface{}, error)

// CoercionDef describes a registered type conversion. Inferable conversions
// are the lossless ones the mapper may pick automatically in phase 2.
type CoercionDef struct {
	ID        string
	From      schema.FieldType
	To        schema.FieldType
	Inferable bool
	Fn        CoercionFunc
}

// DateFormat is the fixed format used for STRING<->DATE conversions.
const DateFormat = "2006-01-02"

var coercionDefs = []CoercionDef{
	{ID: "int_to_float", From: schema.FieldTypeInt, To: schema.FieldTypeFloat, Inferable: true, Fn: intToFloat},
	{ID: "bool_to_int", From: schema.FieldTypeBool, To: schema.FieldTypeInt, Inferable: true, Fn: boolToInt},
	{ID: "int_to_bool", From: schema.FieldTypeInt, To: schema.FieldTypeBool, Inferable: true, Fn: intToBool},
	{ID: "string_to_date", From: schema.FieldTypeString, To: schema.FieldTypeDate, Inferable: true, Fn: stringToDate},
	{ID: "date_to_string", From: schema.FieldTypeDate, To: schema.FieldTypeString, Inferable: true, Fn: dateToString},
	{ID: "int_to_string", From: schema.FieldTypeInt, To: schema.FieldTypeString, Fn: intToString},
	{ID: "float_to_string", From: schema.FieldTypeFloat, To: schema.FieldTypeString, Fn: floatToString},
	{ID: "string_to_int", From: schema.FieldTypeString, To: schema.FieldTypeInt, Fn: stringToInt},
}

var coercionsByID = func() map[string]CoercionDef {
	m := make(map[string]CoercionDef, len(coercionDefs))
	for _, def := range coercionDefs {
		m[def.ID] = def
	}
	return m
}()

// Coercion returns the coercion definition with the given id.
func Coercion(id string) (CoercionDef, bool) {
	def, ok := coercionsByID[id]
	return def, ok
}

// FindCoercion returns the registered conversion between two field types.
// With inferableOnly set, only lossless conversions are considered.
func FindCoercion(from, to schema.FieldType, inferableOnly bool) (CoercionDef, bool) {
	for _, def := range coercionDefs {
		if def.From == from && def.To == to && (!inferableOnly || def.Inferable) {
			return def, true
		}
	}
	return CoercionDef{}, false
}

func intToFloat(v interface{}) (interface{}, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	default:
		return nil, fmt.Errorf("value %v (%T) is not numeric", v, v)
	}
}

func boolToInt(v interface{}) (interface{}, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("value %v (%T) is not a bool", v, v)
	}
}

func intToBool(v interface{}) (interface{}, error) {
	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	return *n != 0, nil
}

func stringToDate(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("value %v (%T) is not a string", v, v)
	}
	if _, err := time.Parse(DateFormat, s); err != nil {
		return nil, fmt.Errorf("value %q is not a %s date", s, DateFormat)
	}
	return s, nil
}

func dateToString(v interface{}) (interface{}, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case string:
		return d, nil
	case time.Time:
		return d.Format(DateFormat), nil
	default:
		return nil, fmt.Errorf("value %v (%T) is not a date", v, v)
	}
}

func intToString(v interface{}) (interface{}, error) {
	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	return strconv.FormatInt(*n, 10), nil
}

func floatToString(v interface{}) (interface{}, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case json.Number:
		return f.String(), nil
	default:
		return nil, fmt.Errorf("value %v (%T) is not a float", v, v)
	}
}

func stringToInt(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("value %v (%T) is not a string", v, v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("value %q is not an integer", s)
	}
	return n, nil
}

func toInt64(v interface{}) (*int64, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int:
		out := int64(n)
		return &out, nil
	case int32:
		out := int64(n)
		return &out, nil
	case int64:
		return &n, nil
	case json.Number:
		out, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("value %v (%T) is not an integer", v, v)
	}
}

// ParseDefault converts a declared default string into a typed value for
// the given field type.
func ParseDefault(ft schema.FieldType, raw string) (interface{}, error) {
	switch ft {
	case schema.FieldTypeInt:
		return strconv.ParseInt(raw, 10, 64)
	case schema.FieldTypeFloat:
		return strconv.ParseFloat(raw, 64)
	case schema.FieldTypeBool:
		return strconv.ParseBool(raw)
	case schema.FieldTypeDate:
		if _, err := time.Parse(DateFormat, raw); err != nil {
			return nil, fmt.Errorf("default %q is not a %s date", raw, DateFormat)
		}
		return raw, nil
	default:
		return raw, nil
	}
}
