package schema

import (
	"sync"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/logging"
)

// Registry holds the immutable set of registered schema versions and
// computes diffs and migration paths between them. Registration order
// defines the version chain: version N can only be reached from version M
// by walking the intermediate registrations.
//
// The registry is safe for concurrent use. Registration is serialized;
// reads take a shared lock and never block each other.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Version
	order    []string
	diffs    map[string]*Diff
	logger   *logging.Logger
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return NewRegistryWithLogger(logging.NewNopLogger())
}

// NewRegistryWithLogger creates an empty schema registry with the given logger.
func NewRegistryWithLogger(logger *logging.Logger) *Registry {
	return &Registry{
		versions: make(map[string]*Version),
		diffs:    make(map[string]*Diff),
		logger:   logger,
	}
}

// Register adds a schema version to the registry. It fails with
// KindDuplicateVersion if the id is already registered and with
// KindSchemaInvalid if the definition violates a structural invariant.
// The registry keeps its own copy; the caller's value is not retained.
func (r *Registry) Register(version *Version) error {
	if version == nil {
		return apperrors.New(apperrors.KindSchemaInvalid, "schema version cannot be nil", nil)
	}
	if err := version.Validate(); err != nil {
		return apperrors.New(apperrors.KindSchemaInvalid, "invalid schema definition", err).
			WithContext("version", version.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.versions[version.ID]; exists {
		return apperrors.Errorf(apperrors.KindDuplicateVersion,
			"schema version %s is already registered", version.ID)
	}

	stored := cloneVersion(version)
	stored.Ordinal = len(r.order)
	r.versions[stored.ID] = stored
	r.order = append(r.order, stored.ID)

	r.logger.WithFields(map[string]interface{}{
		"version": stored.ID,
		"ordinal": stored.Ordinal,
		"tables":  len(stored.Tables),
	}).Info("Registered schema version")

	return nil
}

// Version returns the registered schema version with the given id.
func (r *Registry) Version(id string) (*Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.versions[id]
	if !ok {
		return nil, apperrors.Errorf(apperrors.KindUnknownVersion,
			"schema version %s is not registered", id)
	}
	return version, nil
}

// Versions returns all registered version ids in registration order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Diff computes the structural diff between two registered versions. The
// result is cached per ordered pair; repeated calls return the cached value.
func (r *Registry) Diff(srcID, dstID string) (*Diff, error) {
	r.mu.RLock()
	if cached, ok := r.diffs[srcID+"\x00"+dstID]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	src, srcOK := r.versions[srcID]
	dst, dstOK := r.versions[dstID]
	r.mu.RUnlock()

	if !srcOK {
		return nil, apperrors.Errorf(apperrors.KindUnknownVersion,
			"schema version %s is not registered", srcID)
	}
	if !dstOK {
		return nil, apperrors.Errorf(apperrors.KindUnknownVersion,
			"schema version %s is not registered", dstID)
	}

	diff := Compare(src, dst)

	r.mu.Lock()
	r.diffs[srcID+"\x00"+dstID] = diff
	r.mu.Unlock()

	return diff, nil
}

// Path returns the inclusive ordered version chain from src to dst,
// walking the registration order in either direction. It fails with
// KindUnknownVersion for an unregistered endpoint and KindNoMigrationPath
// when no chain connects the two versions.
func (r *Registry) Path(srcID, dstID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.versions[srcID]
	if !ok {
		return nil, apperrors.Errorf(apperrors.KindUnknownVersion,
			"schema version %s is not registered", srcID)
	}
	dst, ok := r.versions[dstID]
	if !ok {
		return nil, apperrors.Errorf(apperrors.KindUnknownVersion,
			"schema version %s is not registered", dstID)
	}

	if src.Ordinal == dst.Ordinal {
		return []string{srcID}, nil
	}

	step := 1
	if dst.Ordinal < src.Ordinal {
		step = -1
	}

	path := make([]string, 0, abs(dst.Ordinal-src.Ordinal)+1)
	for i := src.Ordinal; i != dst.Ordinal+step; i += step {
		if i < 0 || i >= len(r.order) {
			return nil, apperrors.Errorf(apperrors.KindNoMigrationPath,
				"no migration path from %s to %s", srcID, dstID)
		}
		path = append(path, r.order[i])
	}

	return path, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// cloneVersion deep-copies a schema version so registered definitions stay
// immutable even if the caller mutates its value afterwards.
func cloneVersion(v *Version) *Version {
	out := &Version{
		ID:      v.ID,
		Ordinal: v.Ordinal,
		Tables:  make([]TableDef, len(v.Tables)),
	}
	for i := range v.Tables {
		t := v.Tables[i]
		clone := TableDef{
			Name:        t.Name,
			Fields:      append([]FieldDef(nil), t.Fields...),
			PrimaryKey:  append([]string(nil), t.PrimaryKey...),
			ForeignKeys: append([]ForeignKeyDef(nil), t.ForeignKeys...),
		}
		for j := range clone.Fields {
			if t.Fields[j].Default != nil {
				d := *t.Fields[j].Default
				clone.Fields[j].Default = &d
			}
		}
		out.Tables[i] = clone
	}
	return out
}
