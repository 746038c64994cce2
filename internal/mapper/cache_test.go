package mapper

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/schema"
)

func cacheFixture(t *testing.T) (*Cache, *schema.Registry) {
	t.Helper()
	registry := schema.NewRegistry()

	v1 := singleTableVersion("1", schema.TableDef{
		Name: "patient",
		Fields: []schema.FieldDef{
			{Name: "id", Type: schema.FieldTypeInt},
			{Name: "amount", Type: schema.FieldTypeInt, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})
	v2 := singleTableVersion("2", schema.TableDef{
		Name: "patient",
		Fields: []schema.FieldDef{
			{Name: "id", Type: schema.FieldTypeInt},
			{Name: "amount", Type: schema.FieldTypeFloat, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})
	v3 := singleTableVersion("3", schema.TableDef{
		Name: "patient",
		Fields: []schema.FieldDef{
			{Name: "id", Type: schema.FieldTypeInt},
			{Name: "amount", Type: schema.FieldTypeFloat, Nullable: true},
			{Name: "note", Type: schema.FieldTypeString, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	})

	require.NoError(t, registry.Register(v1))
	require.NoError(t, registry.Register(v2))
	require.NoError(t, registry.Register(v3))

	return NewCache(registry, NewMapper()), registry
}

func TestCachePairReturnsSameInstance(t *testing.T) {
	cache, _ := cacheFixture(t)

	first, err := cache.Pair("1", "2")
	require.NoError(t, err)
	second, err := cache.Pair("1", "2")
	require.NoError(t, err)

	assert.Same(t, first, second, "repeated lookups share one cached rule set")
}

func TestCachePairDirectionsAreDistinct(t *testing.T) {
	cache, _ := cacheFixture(t)

	forward, err := cache.Pair("1", "2")
	require.NoError(t, err)
	backward, err := cache.Pair("2", "1")
	require.NoError(t, err)

	assert.Equal(t, RuleTypeCoerce, forward.Tables["patient"].Rules["amount"].Kind)
	assert.Equal(t, "int_to_float", forward.Tables["patient"].Rules["amount"].CoercionID)

	// Narrowing FLOAT back to INT is lossy and never inferred; the nullable
	// field falls through to a null fill instead.
	assert.Equal(t, RuleDefaultFill, backward.Tables["patient"].Rules["amount"].Kind)
}

func TestCachePairUnknownVersion(t *testing.T) {
	cache, _ := cacheFixture(t)

	_, err := cache.Pair("1", "99")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknownVersion, apperrors.KindOf(err))
}

func TestCacheChainComposesIntermediateSteps(t *testing.T) {
	cache, _ := cacheFixture(t)

	chained, err := cache.Chain("1", "3")
	require.NoError(t, err)

	assert.Equal(t, "1", chained.SourceVersion)
	assert.Equal(t, "3", chained.TargetVersion)

	rules := chained.Tables["patient"].Rules
	assert.Equal(t, RuleTypeCoerce, rules["amount"].Kind)
	assert.Equal(t, "int_to_float", rules["amount"].CoercionID)
	assert.Equal(t, RuleDefaultFill, rules["note"].Kind)
	assert.Nil(t, rules["note"].Default)
}

func TestCacheChainSeedsPairEntries(t *testing.T) {
	cache, _ := cacheFixture(t)

	_, err := cache.Chain("1", "3")
	require.NoError(t, err)

	step, err := cache.Pair("2", "3")
	require.NoError(t, err)
	again, err := cache.Pair("2", "3")
	require.NoError(t, err)
	assert.Same(t, step, again)
}

func TestCacheConcurrentPair(t *testing.T) {
	cache, _ := cacheFixture(t)

	const workers = 16
	results := make([]*VersionRuleSets, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Pair("1", "2")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], fmt.Sprintf("worker %d", i))
		assert.Same(t, results[0], results[i])
	}
}
