package archive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"dbrewind/internal/source"
)

func TestRowHashStableAcrossValueRepresentations(t *testing.T) {
	a := source.Row{"id": int64(5), "amount": float64(3.5), "name": "ada"}
	b := source.Row{"name": "ada", "amount": 3.5, "id": json.Number("5")}

	assert.Equal(t, RowHash(a), RowHash(b))
}

func TestRowHashDetectsChanges(t *testing.T) {
	base := source.Row{"id": int64(1), "name": "ada"}

	cases := map[string]source.Row{
		"changed value":  {"id": int64(1), "name": "grace"},
		"nil value":      {"id": int64(1), "name": nil},
		"extra field":    {"id": int64(1), "name": "ada", "email": "a@b"},
		"missing field":  {"id": int64(1)},
		"renamed field":  {"id": int64(1), "label": "ada"},
		"changed number": {"id": int64(2), "name": "ada"},
	}

	for name, row := range cases {
		assert.NotEqual(t, RowHash(base), RowHash(row), name)
	}
}

func TestRowHashDistinguishesTypedValues(t *testing.T) {
	// "true" the string and true the bool must not collide.
	a := source.Row{"flag": "true"}
	b := source.Row{"flag": true}
	assert.NotEqual(t, RowHash(a), RowHash(b))
}

func TestPrimaryKeyExtractsOnlyKeyFields(t *testing.T) {
	row := source.Row{"id": int64(7), "tenant": "t1", "name": "ada"}

	key := PrimaryKey(row, []string{"tenant", "id"})
	assert.Equal(t, source.Row{"id": int64(7), "tenant": "t1"}, key)
}

func TestKeyStringNumericEquivalence(t *testing.T) {
	a := KeyString(source.Row{"id": int64(5)}, []string{"id"})
	b := KeyString(source.Row{"id": json.Number("5")}, []string{"id"})
	c := KeyString(source.Row{"id": float64(5)}, []string{"id"})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestKeyStringCompositeOrdering(t *testing.T) {
	fields := []string{"tenant", "id"}
	a := KeyString(source.Row{"tenant": "t1", "id": int64(2)}, fields)
	b := KeyString(source.Row{"tenant": "t12", "id": int64(2)}, fields)

	assert.NotEqual(t, a, b)
}
