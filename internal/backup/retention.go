package backup

import (
	"context"
	"time"

	"dbrewind/internal/archive"
	"dbrewind/internal/logging"
)

// RetentionPolicy bounds how many archives are kept and for how long.
// Zero values disable the corresponding limit.
type RetentionPolicy struct {
	// MaxArchives caps the number of retained archives per schema version.
	MaxArchives int `mapstructure:"max_archives" yaml:"max_archives"`
	// MaxAge drops archives older than this.
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age"`
	// MinKeep is the number of newest archives always kept regardless of
	// age, per schema version.
	MinKeep int `mapstructure:"min_keep" yaml:"min_keep"`
}

// RetentionResult summarizes one cleanup pass.
type RetentionResult struct {
	Processed int                 `json:"processed"`
	Deleted   []*archive.Metadata `json:"deleted"`
	Kept      int                 `json:"kept"`
	DryRun    bool                `json:"dry_run"`
	Duration  time.Duration       `json:"duration"`
}

// Retention deletes expired archives while never breaking a delta chain:
// an archive referenced, directly or transitively, as the base of a kept
// archive is kept too.
type Retention struct {
	store  Store
	policy RetentionPolicy
	logger *logging.Logger
}

// NewRetention builds a retention manager over an archive store.
func NewRetention(store Store, policy RetentionPolicy, logger *logging.Logger) *Retention {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Retention{store: store, policy: policy, logger: logger}
}

// Apply runs one cleanup pass. With dryRun the result lists what would be
// deleted without touching storage.
func (r *Retention) Apply(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	start := time.Now()

	metas, err := r.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	doomed := r.selectDoomed(metas)

	result := &RetentionResult{
		Processed: len(metas),
		Kept:      len(metas) - len(doomed),
		DryRun:    dryRun,
	}
	for _, meta := range doomed {
		if !dryRun {
			if err := r.store.Delete(ctx, meta.ID); err != nil {
				return nil, err
			}
			r.logger.WithField("archive_id", meta.ID).Info("archive deleted by retention")
		}
		result.Deleted = append(result.Deleted, meta)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Candidates reports which archives the current policy would delete.
func (r *Retention) Candidates(ctx context.Context) ([]*archive.Metadata, error) {
	metas, err := r.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return r.selectDoomed(metas), nil
}

// selectDoomed applies the age and count limits per schema version, then
// rescues every archive that a surviving archive depends on as a base.
func (r *Retention) selectDoomed(metas []*archive.Metadata) []*archive.Metadata {
	byID := make(map[string]*archive.Metadata, len(metas))
	for _, meta := range metas {
		byID[meta.ID] = meta
	}

	// Group newest-first per schema version; List already sorts.
	byVersion := make(map[string][]*archive.Metadata)
	for _, meta := range metas {
		byVersion[meta.SchemaVersion] = append(byVersion[meta.SchemaVersion], meta)
	}

	keep := make(map[string]bool, len(metas))
	cutoff := time.Time{}
	if r.policy.MaxAge > 0 {
		cutoff = time.Now().Add(-r.policy.MaxAge)
	}

	for _, group := range byVersion {
		for i, meta := range group {
			if i < r.policy.MinKeep {
				keep[meta.ID] = true
				continue
			}
			if r.policy.MaxArchives > 0 && i >= r.policy.MaxArchives {
				continue
			}
			if !cutoff.IsZero() && meta.CreatedAt.Before(cutoff) {
				continue
			}
			keep[meta.ID] = true
		}
	}

	// A kept delta pins its whole base chain.
	for changed := true; changed; {
		changed = false
		for id := range keep {
			meta := byID[id]
			if meta == nil || meta.BaseID == nil {
				continue
			}
			if !keep[*meta.BaseID] {
				if _, exists := byID[*meta.BaseID]; exists {
					keep[*meta.BaseID] = true
					changed = true
				}
			}
		}
	}

	var doomed []*archive.Metadata
	for _, meta := range metas {
		if !keep[meta.ID] {
			doomed = append(doomed, meta)
		}
	}
	return doomed
}
