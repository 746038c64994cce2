package restore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
	"dbrewind/internal/backup"
	"dbrewind/internal/logging"
	"dbrewind/internal/mapper"
	"dbrewind/internal/schema"
	"dbrewind/internal/source"
)

// v1: patient(id, dob tagged birth_date, code)
// v2: patient(id, date_of_birth tagged birth_date, code, status default "active")
func registryV1V2(t *testing.T) *schema.Registry {
	t.Helper()
	registry := schema.NewRegistry()

	require.NoError(t, registry.Register(&schema.Version{
		ID: "1",
		Tables: []schema.TableDef{
			{
				Name: "patient",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "dob", Type: schema.FieldTypeString, Tag: "birth_date"},
					{Name: "code", Type: schema.FieldTypeString},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	require.NoError(t, registry.Register(&schema.Version{
		ID: "2",
		Tables: []schema.TableDef{
			{
				Name: "patient",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "date_of_birth", Type: schema.FieldTypeString, Tag: "birth_date"},
					{Name: "code", Type: schema.FieldTypeString},
					{Name: "status", Type: schema.FieldTypeString, Default: strPtr("active")},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	return registry
}

func newTestPipeline(t *testing.T, registry *schema.Registry) (*Pipeline, *backup.Engine) {
	t.Helper()
	store, err := backup.NewLocalStore(t.TempDir(), 0o755)
	require.NoError(t, err)

	engine := backup.NewEngine(registry, store, &archive.Codec{Compression: archive.CompressionGzip}, logging.NewNopLogger())
	rules := mapper.NewCache(registry, mapper.NewMapper())
	return NewPipeline(engine, rules, logging.NewNopLogger()), engine
}

func backupPatients(t *testing.T, engine *backup.Engine, versionID string, rows ...source.Row) string {
	t.Helper()
	src := source.NewMemoryStore()
	src.Seed("patient", rows)
	meta, err := engine.Backup(context.Background(), versionID, src, "")
	require.NoError(t, err)
	return meta.ID
}

func TestRestoreSameVersionRoundTrip(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(2), "dob": "1906-12-09", "code": "b"},
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), archiveID, sink, Options{})
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, "1", result.SourceVersion)
	assert.Equal(t, "1", result.TargetVersion)
	assert.Equal(t, 2, result.RowsWritten)
	assert.Zero(t, result.RowsSkipped)
	assert.InDelta(t, 1.0, result.Coverage, 0.001)

	rows := sink.Rows("patient")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"], "rows are committed in primary key order")
	assert.Equal(t, "1815-12-10", rows[0]["dob"])
}

func TestRestoreAcrossVersions(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), archiveID, sink, Options{TargetVersion: "2"})
	require.NoError(t, err)

	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, "2", result.TargetVersion)

	rows := sink.Rows("patient")
	require.Len(t, rows, 1)
	assert.Equal(t, "1815-12-10", rows[0]["date_of_birth"], "tag match renames the field")
	assert.Equal(t, "active", rows[0]["status"], "added field takes its schema default")
	_, hasOld := rows[0]["dob"]
	assert.False(t, hasOld)

	var found bool
	for _, finding := range result.Findings {
		if finding.Field == "status" && finding.Severity == SeverityInfo {
			found = true
		}
	}
	assert.True(t, found, "default fill is surfaced as a finding")
}

func TestRestoreCoverageGapRollsBack(t *testing.T) {
	registry := registryV1V2(t)
	require.NoError(t, registry.Register(&schema.Version{
		ID: "3",
		Tables: []schema.TableDef{
			{
				Name: "patient",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "date_of_birth", Type: schema.FieldTypeString, Tag: "birth_date"},
					{Name: "code", Type: schema.FieldTypeString},
					{Name: "status", Type: schema.FieldTypeString, Default: strPtr("active")},
					{Name: "tenant_id", Type: schema.FieldTypeInt},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), archiveID, sink, Options{TargetVersion: "3"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCoverageGap, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, result.State)
	assert.Empty(t, sink.Rows("patient"), "nothing is written on a coverage gap")
}

func TestRestoreSkipPolicyRecordsSkippedRows(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.Version{
		ID: "1",
		Tables: []schema.TableDef{
			{
				Name: "visit",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "visited_on", Type: schema.FieldTypeString},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	require.NoError(t, registry.Register(&schema.Version{
		ID: "2",
		Tables: []schema.TableDef{
			{
				Name: "visit",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "visited_on", Type: schema.FieldTypeDate},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	pipeline, engine := newTestPipeline(t, registry)

	src := source.NewMemoryStore()
	src.Seed("visit", []source.Row{
		{"id": int64(1), "visited_on": "2026-01-15"},
		{"id": int64(2), "visited_on": "not a date"},
	})
	meta, err := engine.Backup(context.Background(), "1", src, "")
	require.NoError(t, err)

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), meta.ID, sink, Options{
		TargetVersion: "2",
		Policy:        RowPolicySkip,
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, 1, result.RowsWritten)
	assert.Equal(t, 1, result.RowsSkipped)
	require.Len(t, sink.Rows("visit"), 1)

	// Same archive under strict policy rolls back instead.
	strictSink := source.NewMemoryStore()
	strictResult, err := pipeline.Restore(context.Background(), meta.ID, strictSink, Options{
		TargetVersion: "2",
		Policy:        RowPolicyStrict,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRowCoercion, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, strictResult.State)
	assert.Empty(t, strictSink.Rows("visit"))
}

func TestRestoreIsIdempotent(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
		source.Row{"id": int64(2), "dob": "1906-12-09", "code": "b"},
	)

	sink := source.NewMemoryStore()
	_, err := pipeline.Restore(context.Background(), archiveID, sink, Options{})
	require.NoError(t, err)
	_, err = pipeline.Restore(context.Background(), archiveID, sink, Options{})
	require.NoError(t, err)

	assert.Len(t, sink.Rows("patient"), 2, "restoring twice does not duplicate rows")
}

func TestRestoreManualOverridePrecedence(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	overrides := mapper.Overrides{
		"patient": {
			"code": mapper.OverrideFunc(func(row source.Row) (interface{}, error) {
				return "masked", nil
			}),
		},
	}

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), archiveID, sink, Options{
		TargetVersion: "2",
		Overrides:     overrides,
	})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, "masked", sink.Rows("patient")[0]["code"])
}

func TestRestoreCancelledBeforeCommit(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(ctx, archiveID, sink, Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCancelled, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, result.State)
	assert.Empty(t, sink.Rows("patient"))
}

func TestRestoreConstraintViolationRollsBack(t *testing.T) {
	registry := schema.NewRegistry()
	version := &schema.Version{
		ID: "1",
		Tables: []schema.TableDef{
			{
				Name: "patient",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
				},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "visit",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "patient_id", Type: schema.FieldTypeInt},
				},
				PrimaryKey: []string{"id"},
				ForeignKeys: []schema.ForeignKeyDef{
					{Field: "patient_id", RefTable: "patient", RefField: "id"},
				},
			},
		},
	}
	require.NoError(t, registry.Register(version))
	pipeline, engine := newTestPipeline(t, registry)

	// The archived visit references a patient that was never archived.
	src := source.NewMemoryStore()
	src.Seed("visit", []source.Row{{"id": int64(1), "patient_id": int64(99)}})
	meta, err := engine.Backup(context.Background(), "1", src, "")
	require.NoError(t, err)

	sink := source.NewMemoryStoreWithSchema(version)
	result, err := pipeline.Restore(context.Background(), meta.ID, sink, Options{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConstraintViolation, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, result.State)
	assert.Empty(t, sink.Rows("visit"))
}

func TestRestoreDeletesTombstonedRows(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	src := source.NewMemoryStore()
	src.Seed("patient", []source.Row{
		{"id": int64(1), "dob": "1815-12-10", "code": "a"},
		{"id": int64(2), "dob": "1906-12-09", "code": "b"},
	})
	base, err := engine.Backup(context.Background(), "1", src, "")
	require.NoError(t, err)

	// Row 2 disappears from the source before the delta.
	src.Seed("patient", []source.Row{
		{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	})
	delta, err := engine.Backup(context.Background(), "1", src, base.ID)
	require.NoError(t, err)

	// The sink already holds the base state from an earlier restore.
	sink := source.NewMemoryStore()
	_, err = pipeline.Restore(context.Background(), base.ID, sink, Options{})
	require.NoError(t, err)
	require.Len(t, sink.Rows("patient"), 2)

	result, err := pipeline.Restore(context.Background(), delta.ID, sink, Options{})
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, 1, result.RowsDeleted)

	rows := sink.Rows("patient")
	require.Len(t, rows, 1, "the deleted row is removed from the sink, not just omitted")
	assert.Equal(t, int64(1), rows[0]["id"])
}

func TestRestoreDeletesTombstonedRowsAcrossVersions(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	src := source.NewMemoryStore()
	src.Seed("patient", []source.Row{
		{"id": int64(1), "dob": "1815-12-10", "code": "a"},
		{"id": int64(2), "dob": "1906-12-09", "code": "b"},
	})
	base, err := engine.Backup(context.Background(), "1", src, "")
	require.NoError(t, err)

	src.Seed("patient", []source.Row{
		{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	})
	delta, err := engine.Backup(context.Background(), "1", src, base.ID)
	require.NoError(t, err)

	sink := source.NewMemoryStore()
	_, err = pipeline.Restore(context.Background(), base.ID, sink, Options{TargetVersion: "2"})
	require.NoError(t, err)
	require.Len(t, sink.Rows("patient"), 2)

	result, err := pipeline.Restore(context.Background(), delta.ID, sink, Options{TargetVersion: "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowsDeleted)

	rows := sink.Rows("patient")
	require.Len(t, rows, 1, "tombstone keys map through the rules into the target key space")
	assert.Equal(t, int64(1), rows[0]["id"])
}

func TestValidateFlagsUnresolvableForeignKey(t *testing.T) {
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(&schema.Version{
		ID: "1",
		Tables: []schema.TableDef{
			{
				Name: "visit",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "patient_id", Type: schema.FieldTypeInt},
				},
				PrimaryKey: []string{"id"},
			},
		},
	}))
	require.NoError(t, registry.Register(&schema.Version{
		ID: "2",
		Tables: []schema.TableDef{
			{
				Name:       "patient",
				Fields:     []schema.FieldDef{{Name: "id", Type: schema.FieldTypeInt}},
				PrimaryKey: []string{"id"},
			},
			{
				Name: "visit",
				Fields: []schema.FieldDef{
					{Name: "id", Type: schema.FieldTypeInt},
					{Name: "patient_id", Type: schema.FieldTypeInt},
				},
				PrimaryKey: []string{"id"},
				ForeignKeys: []schema.ForeignKeyDef{
					{Field: "patient_id", RefTable: "patient", RefField: "id"},
				},
			},
		},
	}))
	pipeline, engine := newTestPipeline(t, registry)

	src := source.NewMemoryStore()
	src.Seed("visit", []source.Row{{"id": int64(1), "patient_id": int64(7)}})
	meta, err := engine.Backup(context.Background(), "1", src, "")
	require.NoError(t, err)

	// Version 1 has no patient table, so no rule chain can feed the table
	// the visit foreign key points at. Both the dry run and the real
	// restore must say so before any write is attempted.
	result, err := pipeline.Validate(context.Background(), meta.ID, Options{TargetVersion: "2"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCoverageGap, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, result.State)

	sink := source.NewMemoryStore()
	restored, err := pipeline.Restore(context.Background(), meta.ID, sink, Options{TargetVersion: "2"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindCoverageGap, apperrors.KindOf(err))
	assert.Equal(t, StateRolledBack, restored.State)
	assert.Empty(t, sink.Rows("visit"))
}

func TestValidateReportsWithoutWriting(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	result, err := pipeline.Validate(context.Background(), archiveID, Options{TargetVersion: "2"})
	require.NoError(t, err)

	assert.Equal(t, StateValidating, result.State)
	assert.Equal(t, "1", result.SourceVersion)
	assert.Equal(t, "2", result.TargetVersion)
	assert.InDelta(t, 1.0, result.Coverage, 0.001)
	assert.Zero(t, result.RowsWritten)

	var found bool
	for _, finding := range result.Findings {
		if finding.Field == "status" {
			found = true
		}
	}
	assert.True(t, found, "dry run surfaces the same findings as a real restore")
}

func TestValidateCoverageGap(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	result, err := pipeline.Validate(context.Background(), archiveID, Options{TargetVersion: "99"})
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, result.State)
}

func TestRestoreNoMigrationPath(t *testing.T) {
	registry := registryV1V2(t)
	pipeline, engine := newTestPipeline(t, registry)

	archiveID := backupPatients(t, engine, "1",
		source.Row{"id": int64(1), "dob": "1815-12-10", "code": "a"},
	)

	sink := source.NewMemoryStore()
	result, err := pipeline.Restore(context.Background(), archiveID, sink, Options{TargetVersion: "99"})
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, result.State)
	assert.Empty(t, sink.Rows("patient"))
}
