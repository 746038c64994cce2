package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/schema"
	"dbrewind/internal/source"
)

func ruleSetsForTable(srcVersion, dstVersion string, target *schema.TableDef, rules map[string]Rule) *VersionRuleSets {
	return &VersionRuleSets{
		SourceVersion: srcVersion,
		TargetVersion: dstVersion,
		Tables: map[string]*RuleSet{
			target.Name: {
				Table:         target.Name,
				SourceVersion: srcVersion,
				TargetVersion: dstVersion,
				Rules:         rules,
				Target:        target,
			},
		},
	}
}

func composeTarget() *schema.TableDef {
	return &schema.TableDef{
		Name: "patient",
		Fields: []schema.FieldDef{
			{Name: "id", Type: schema.FieldTypeInt},
			{Name: "value", Type: schema.FieldTypeString, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestComposeDirectCopyChain(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"id":    {Kind: RuleDirectCopy, SourceField: "id", Confidence: 1.0},
		"value": {Kind: RuleDirectCopy, SourceField: "value", Confidence: 1.0},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"id":    {Kind: RuleDirectCopy, SourceField: "id", Confidence: 1.0},
		"value": {Kind: RuleDirectCopy, SourceField: "value", Confidence: 1.0},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)

	assert.Equal(t, "1", composed.SourceVersion)
	assert.Equal(t, "3", composed.TargetVersion)
	rule := composed.Tables["patient"].Rules["id"]
	assert.Equal(t, RuleDirectCopy, rule.Kind)
	assert.Equal(t, "id", rule.SourceField)
}

func TestComposeRenameChainTracksLineage(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleRename, SourceField: "val_a", Confidence: 0.9},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleRename, SourceField: "value", Confidence: 0.95},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)

	rule := composed.Tables["patient"].Rules["value"]
	assert.Equal(t, RuleRename, rule.Kind)
	assert.Equal(t, "val_a", rule.SourceField)
	assert.InDelta(t, 0.9, rule.Confidence, 0.001, "composite confidence is the chain minimum")
}

func TestComposeDropWins(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleDrop},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleDirectCopy, SourceField: "value"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)
	assert.Equal(t, RuleDrop, composed.Tables["patient"].Rules["value"].Kind)
}

func TestComposeCoercionsCollapse(t *testing.T) {
	target := composeTarget()
	// INT -> FLOAT then FLOAT -> STRING collapses into INT -> STRING.
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "count", CoercionID: "int_to_float"},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "float_to_string"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)

	rule := composed.Tables["patient"].Rules["value"]
	assert.Equal(t, RuleTypeCoerce, rule.Kind)
	assert.Equal(t, "count", rule.SourceField)
	assert.Equal(t, "int_to_string", rule.CoercionID)
}

func TestComposeInverseCoercionsCancel(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "string_to_date"},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "date_to_string"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)
	assert.Equal(t, RuleDirectCopy, composed.Tables["patient"].Rules["value"].Kind)
}

func TestComposeUnsupportedCoercionChain(t *testing.T) {
	target := composeTarget()
	// BOOL -> INT then INT -> FLOAT needs a direct BOOL -> FLOAT conversion,
	// which is not registered.
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "flag", CoercionID: "bool_to_int"},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "int_to_float"},
	})

	_, err := ComposeChain([]*VersionRuleSets{first, second})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnsupportedCoercionChain, apperrors.KindOf(err))
}

func TestComposeDefaultFillThroughCoercion(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleDefaultFill, Default: int64(1)},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "int_to_float"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)

	rule := composed.Tables["patient"].Rules["value"]
	assert.Equal(t, RuleDefaultFill, rule.Kind)
	assert.Equal(t, float64(1), rule.Default)
}

func TestComposeManualOverrideThroughCoercion(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{
		"value": {Kind: RuleManualOverride, Override: OverrideFunc(func(row source.Row) (interface{}, error) {
			return int64(5), nil
		})},
	})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleTypeCoerce, SourceField: "value", CoercionID: "int_to_string"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)

	rule := composed.Tables["patient"].Rules["value"]
	require.Equal(t, RuleManualOverride, rule.Kind)
	got, err := rule.Apply(source.Row{})
	require.NoError(t, err)
	assert.Equal(t, "5", got)
}

func TestComposeMissingLineageBecomesUnresolved(t *testing.T) {
	target := composeTarget()
	first := ruleSetsForTable("1", "2", target, map[string]Rule{})
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleDirectCopy, SourceField: "value"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)
	assert.Contains(t, composed.Tables["patient"].Unresolved, "value")
}

func TestComposeTableAbsentMidChain(t *testing.T) {
	target := composeTarget()
	first := &VersionRuleSets{SourceVersion: "1", TargetVersion: "2", Tables: map[string]*RuleSet{}}
	second := ruleSetsForTable("2", "3", target, map[string]Rule{
		"value": {Kind: RuleDirectCopy, SourceField: "value"},
	})

	composed, err := ComposeChain([]*VersionRuleSets{first, second})
	require.NoError(t, err)
	assert.Empty(t, composed.Tables)
}
