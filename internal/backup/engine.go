package backup

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
	"dbrewind/internal/logging"
	"dbrewind/internal/schema"
	"dbrewind/internal/source"
)

// Engine creates archives from live data sources and materializes stored
// archive chains back into row snapshots.
type Engine struct {
	registry *schema.Registry
	store    Store
	codec    *archive.Codec
	retry    *apperrors.RetryHandler
	logger   *logging.Logger
}

// NewEngine builds a backup engine over a version registry and an archive
// store.
func NewEngine(registry *schema.Registry, store Store, codec *archive.Codec, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = &archive.Codec{Compression: archive.CompressionZstd}
	}
	return &Engine{
		registry: registry,
		store:    store,
		codec:    codec,
		retry:    apperrors.NewDefaultRetryHandler(),
		logger:   logger,
	}
}

// Backup scans every table of the data source and stores the result as one
// archive. With an empty baseID the archive is a full snapshot; otherwise
// it is a delta against the named base: only rows that are new or changed
// since the base are stored, and rows present in the base but gone from the
// source become tombstones. The base must carry the same schema version.
func (e *Engine) Backup(ctx context.Context, versionID string, src source.Source, baseID string) (*archive.Metadata, error) {
	version, err := e.registry.Version(versionID)
	if err != nil {
		return nil, err
	}

	var baseState map[string]map[string]source.Row
	if baseID != "" {
		baseMeta, err := e.store.Metadata(ctx, baseID)
		if err != nil {
			return nil, err
		}
		if baseMeta.SchemaVersion != versionID {
			return nil, apperrors.Errorf(apperrors.KindBaseVersionMismatch,
				"base archive %s holds schema version %s, backup requested for %s",
				baseID, baseMeta.SchemaVersion, versionID).
				WithContext("base_id", baseID).
				WithContext("base_version", baseMeta.SchemaVersion).
				WithContext("requested_version", versionID)
		}
		baseState, _, _, err = e.materialize(ctx, baseID, version)
		if err != nil {
			return nil, err
		}
	}

	arc := &archive.Archive{
		ID:            uuid.New().String(),
		SchemaVersion: versionID,
		CreatedAt:     time.Now().UTC(),
		Tables:        make(map[string][]source.Row),
	}
	if baseID != "" {
		arc.BaseID = &baseID
		arc.Tombstones = make(map[string][]source.Row)
	}

	for i := range version.Tables {
		table := &version.Tables[i]
		start := time.Now()

		rows, err := e.scanTable(ctx, src, table.Name)
		if err != nil {
			return nil, err
		}

		if baseState == nil {
			sortRowsByKey(rows, table.PrimaryKey)
			arc.Tables[table.Name] = rows
			e.logger.LogTableScan(table.Name, len(rows), len(rows), time.Since(start))
			continue
		}

		changed, tombstones := diffAgainstBase(rows, baseState[table.Name], table.PrimaryKey)
		if len(changed) > 0 {
			arc.Tables[table.Name] = changed
		}
		if len(tombstones) > 0 {
			arc.Tombstones[table.Name] = tombstones
		}
		e.logger.LogTableScan(table.Name, len(rows), len(changed)+len(tombstones), time.Since(start))
	}

	payload, meta, err := e.codec.Encode(arc)
	if err != nil {
		return nil, err
	}

	err = e.retry.Retry(ctx, func() error {
		return e.store.Put(ctx, payload, meta)
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"archive_id": meta.ID,
		"kind":       meta.Kind,
		"rows":       meta.RowCount,
		"tombstones": meta.Tombstones,
		"bytes":      meta.SizeBytes,
	}).Info("archive stored")
	return meta, nil
}

// Snapshot replays an archive chain into the complete row set it
// represents, tables sorted by primary key. The second return value holds
// the chain's net tombstones per table: primary keys deleted along the
// chain and never re-inserted, which a restore into a non-fresh sink must
// delete explicitly.
func (e *Engine) Snapshot(ctx context.Context, archiveID string) (map[string][]source.Row, map[string][]source.Row, *schema.Version, error) {
	meta, err := e.store.Metadata(ctx, archiveID)
	if err != nil {
		return nil, nil, nil, err
	}
	version, err := e.registry.Version(meta.SchemaVersion)
	if err != nil {
		return nil, nil, nil, err
	}

	state, tombstoned, _, err := e.materialize(ctx, archiveID, version)
	if err != nil {
		return nil, nil, nil, err
	}

	snapshot := make(map[string][]source.Row, len(state))
	tombstones := make(map[string][]source.Row, len(tombstoned))
	for i := range version.Tables {
		table := &version.Tables[i]
		byKey := state[table.Name]
		rows := make([]source.Row, 0, len(byKey))
		for _, row := range byKey {
			rows = append(rows, row)
		}
		sortRowsByKey(rows, table.PrimaryKey)
		snapshot[table.Name] = rows

		if keys := tombstoned[table.Name]; len(keys) > 0 {
			keyRows := make([]source.Row, 0, len(keys))
			for _, key := range keys {
				keyRows = append(keyRows, key)
			}
			sortRowsByKey(keyRows, table.PrimaryKey)
			tombstones[table.Name] = keyRows
		}
	}
	return snapshot, tombstones, version, nil
}

// Load decodes a single stored archive without replaying its chain.
func (e *Engine) Load(ctx context.Context, archiveID string) (*archive.Archive, error) {
	var payload []byte
	err := e.retry.Retry(ctx, func() error {
		var getErr error
		payload, getErr = e.store.Get(ctx, archiveID)
		return getErr
	})
	if err != nil {
		return nil, err
	}
	return e.codec.Decode(payload)
}

// materialize walks the base chain from archiveID back to its full
// snapshot, then replays deltas forward. A missing ancestor or a cycle in
// the chain fails with KindBrokenArchiveChain. The second return value
// collects the net tombstones: keys tombstoned somewhere in the chain and
// not re-inserted by a later archive.
func (e *Engine) materialize(ctx context.Context, archiveID string, version *schema.Version) (map[string]map[string]source.Row, map[string]map[string]source.Row, []*archive.Archive, error) {
	var chain []*archive.Archive
	visited := make(map[string]bool)

	for id := archiveID; ; {
		if visited[id] {
			return nil, nil, nil, apperrors.Errorf(apperrors.KindBrokenArchiveChain,
				"archive chain contains a cycle at %s", id).
				WithContext("archive_id", id)
		}
		visited[id] = true

		arc, err := e.Load(ctx, id)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindStorage {
				return nil, nil, nil, apperrors.New(apperrors.KindBrokenArchiveChain,
					"archive chain references a missing or unreadable archive", err).
					WithContext("archive_id", id).
					WithContext("chain_head", archiveID)
			}
			return nil, nil, nil, err
		}
		if arc.SchemaVersion != version.ID {
			return nil, nil, nil, apperrors.Errorf(apperrors.KindBrokenArchiveChain,
				"archive %s in chain holds schema version %s, expected %s",
				id, arc.SchemaVersion, version.ID).
				WithContext("archive_id", id)
		}

		chain = append(chain, arc)
		if arc.BaseID == nil {
			break
		}
		id = *arc.BaseID
	}

	// chain is head-first; replay oldest-first.
	state := make(map[string]map[string]source.Row)
	tombstoned := make(map[string]map[string]source.Row)
	for i := len(chain) - 1; i >= 0; i-- {
		arc := chain[i]
		for tableName, rows := range arc.Tables {
			table, ok := version.Table(tableName)
			if !ok {
				continue
			}
			byKey := state[tableName]
			if byKey == nil {
				byKey = make(map[string]source.Row, len(rows))
				state[tableName] = byKey
			}
			for _, row := range rows {
				key := archive.KeyString(row, table.PrimaryKey)
				byKey[key] = row
				delete(tombstoned[tableName], key)
			}
		}
		for tableName, keys := range arc.Tombstones {
			table, ok := version.Table(tableName)
			if !ok {
				continue
			}
			byKey := state[tableName]
			dead := tombstoned[tableName]
			if dead == nil {
				dead = make(map[string]source.Row, len(keys))
				tombstoned[tableName] = dead
			}
			for _, key := range keys {
				keyStr := archive.KeyString(key, table.PrimaryKey)
				delete(byKey, keyStr)
				dead[keyStr] = key
			}
		}
	}
	return state, tombstoned, chain, nil
}

func (e *Engine) scanTable(ctx context.Context, src source.Source, table string) ([]source.Row, error) {
	iter, err := src.ReadTable(ctx, table)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	return source.Collect(iter)
}

// diffAgainstBase splits a fresh scan into rows that differ from the base
// state and tombstones for base rows no longer present. Unchanged rows are
// dropped; equality is by content hash.
func diffAgainstBase(rows []source.Row, base map[string]source.Row, pkFields []string) ([]source.Row, []source.Row) {
	var changed []source.Row
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		key := archive.KeyString(row, pkFields)
		seen[key] = true

		baseRow, ok := base[key]
		if !ok || archive.RowHash(row) != archive.RowHash(baseRow) {
			changed = append(changed, row)
		}
	}

	var tombstones []source.Row
	for key, baseRow := range base {
		if !seen[key] {
			tombstones = append(tombstones, archive.PrimaryKey(baseRow, pkFields))
		}
	}

	sortRowsByKey(changed, pkFields)
	sortRowsByKey(tombstones, pkFields)
	return changed, tombstones
}

// sortRowsByKey orders rows by their primary key string so archive content
// and snapshots are deterministic.
func sortRowsByKey(rows []source.Row, pkFields []string) {
	sort.Slice(rows, func(i, j int) bool {
		return archive.KeyString(rows[i], pkFields) < archive.KeyString(rows[j], pkFields)
	})
}
