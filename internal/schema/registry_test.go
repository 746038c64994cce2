package schema

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrewind/internal/apperrors"
)

func TestRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(testVersionV1()))
	require.NoError(t, registry.Register(testVersionV2()))

	v1, err := registry.Version("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 0, v1.Ordinal)

	v2, err := registry.Version("2.0.0")
	require.NoError(t, err)
	assert.Equal(t, 1, v2.Ordinal)

	assert.Equal(t, []string{"1.0.0", "2.0.0"}, registry.Versions())
}

func TestRegisterDuplicateVersion(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testVersionV1()))

	err := registry.Register(testVersionV1())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDuplicateVersion, apperrors.KindOf(err))
}

func TestRegisterInvalidSchema(t *testing.T) {
	registry := NewRegistry()
	invalid := &Version{ID: "bad", Tables: []TableDef{{Name: "t"}}}

	err := registry.Register(invalid)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSchemaInvalid, apperrors.KindOf(err))

	err = registry.Register(nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSchemaInvalid, apperrors.KindOf(err))
}

func TestRegisteredVersionIsImmutable(t *testing.T) {
	registry := NewRegistry()
	version := testVersionV1()
	require.NoError(t, registry.Register(version))

	// Mutating the caller's value must not affect the registered copy.
	version.Tables[0].Fields[0].Name = "mutated"

	stored, err := registry.Version("1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "id", stored.Tables[0].Fields[0].Name)
}

func TestDiffUnknownVersion(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testVersionV1()))

	_, err := registry.Diff("1.0.0", "9.9.9")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknownVersion, apperrors.KindOf(err))

	_, err = registry.Diff("9.9.9", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknownVersion, apperrors.KindOf(err))
}

func TestDiffIsCached(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testVersionV1()))
	require.NoError(t, registry.Register(testVersionV2()))

	first, err := registry.Diff("1.0.0", "2.0.0")
	require.NoError(t, err)
	second, err := registry.Diff("1.0.0", "2.0.0")
	require.NoError(t, err)

	// Same pointer: the cached diff is returned.
	assert.Same(t, first, second)
}

func TestPath(t *testing.T) {
	registry := NewRegistry()
	for i := 1; i <= 4; i++ {
		v := testVersionV1()
		v.ID = fmt.Sprintf("%d.0.0", i)
		require.NoError(t, registry.Register(v))
	}

	tests := []struct {
		src, dst string
		want     []string
	}{
		{"1.0.0", "4.0.0", []string{"1.0.0", "2.0.0", "3.0.0", "4.0.0"}},
		{"3.0.0", "1.0.0", []string{"3.0.0", "2.0.0", "1.0.0"}},
		{"2.0.0", "2.0.0", []string{"2.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.src+"->"+tt.dst, func(t *testing.T) {
			path, err := registry.Path(tt.src, tt.dst)
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
		})
	}

	_, err := registry.Path("1.0.0", "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUnknownVersion, apperrors.KindOf(err))
}

func TestConcurrentRegistrationRace(t *testing.T) {
	registry := NewRegistry()

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = registry.Register(testVersionV1())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, apperrors.KindDuplicateVersion, apperrors.KindOf(err))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent registration must win")
}
