package restore

import (
	"context"
	"sort"
	"time"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
	"dbrewind/internal/backup"
	"dbrewind/internal/logging"
	"dbrewind/internal/mapper"
	"dbrewind/internal/source"
)

// Pipeline executes restores: archive in, transformed rows out, committed
// in one transaction against the sink.
type Pipeline struct {
	engine  *backup.Engine
	rules   *mapper.Cache
	logger  *logging.Logger
	workers int
}

// NewPipeline builds a restore pipeline over a backup engine and a rule-set
// cache.
func NewPipeline(engine *backup.Engine, rules *mapper.Cache, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{engine: engine, rules: rules, logger: logger}
}

// Options tune one restore run.
type Options struct {
	// TargetVersion is the schema version to restore into. Empty means
	// the archive's own version.
	TargetVersion string
	// Policy decides whether a bad row skips or fails the run.
	Policy RowPolicy
	// Overrides supplies manual per-field transforms that take precedence
	// over inferred rules.
	Overrides mapper.Overrides
	// Workers bounds the transform worker pool; zero uses GOMAXPROCS.
	Workers int
}

// Result reports the outcome of one restore run. State is StateCommitted on
// success and StateRolledBack on any failure; a rolled-back run has written
// nothing.
type Result struct {
	SessionID     string        `json:"session_id"`
	ArchiveID     string        `json:"archive_id"`
	SourceVersion string        `json:"source_version"`
	TargetVersion string        `json:"target_version"`
	State         State         `json:"state"`
	Coverage      float64       `json:"coverage"`
	RowsWritten   int           `json:"rows_written"`
	RowsDeleted   int           `json:"rows_deleted"`
	RowsSkipped   int           `json:"rows_skipped"`
	Findings      []Finding     `json:"findings,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Restore replays an archive into the sink under the target schema version.
// All writes happen inside a single transaction opened only after every row
// has been transformed; any failure before commit leaves the sink
// untouched. Cancellation is honored between phases and during transform,
// but never once the commit has started.
func (p *Pipeline) Restore(ctx context.Context, archiveID string, sink source.Sink, opts Options) (*Result, error) {
	session := NewSession(archiveID, opts.Policy, p.logger)
	start := time.Now()

	result := &Result{
		SessionID: session.ID,
		ArchiveID: archiveID,
		State:     StateResolving,
	}
	fail := func(err error) (*Result, error) {
		session.Fail(err)
		result.State = session.State
		result.Findings = session.Findings
		result.Duration = time.Since(start)
		return result, err
	}

	// Resolve the archive and the rule chain.
	snapshot, tombstones, sourceVersion, err := p.engine.Snapshot(ctx, archiveID)
	if err != nil {
		return fail(err)
	}
	targetID := opts.TargetVersion
	if targetID == "" {
		targetID = sourceVersion.ID
	}
	session.SourceVersion = sourceVersion.ID
	session.TargetVersion = targetID
	result.SourceVersion = sourceVersion.ID
	result.TargetVersion = targetID

	ruleSets, err := p.rules.Chain(sourceVersion.ID, targetID)
	if err != nil {
		return fail(err)
	}
	if len(opts.Overrides) > 0 {
		ruleSets = ruleSets.WithOverrides(opts.Overrides)
	}
	if err := session.Transition(StateRuleChainReady); err != nil {
		return fail(err)
	}
	result.Coverage = ruleSets.Coverage()

	// Validate coverage before touching any data.
	if err := session.Transition(StateValidating); err != nil {
		return fail(err)
	}
	tables := sortedTables(ruleSets)
	for _, tableName := range tables {
		rs := ruleSets.Tables[tableName]
		if err := rs.Validate(); err != nil {
			return fail(err)
		}
		p.recordRuleFindings(session, rs)
	}
	if err := validateForeignKeys(ruleSets); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(apperrors.Classify(err))
	}

	// Transform every table up front; nothing is written yet.
	if err := session.Transition(StateTransforming); err != nil {
		return fail(err)
	}
	transformed := make(map[string][]source.Row, len(tables))
	for _, tableName := range tables {
		rs := ruleSets.Tables[tableName]
		outcome, err := transformTable(ctx, rs, snapshot[tableName], session.Policy, opts.Workers)
		if err != nil {
			return fail(err)
		}
		transformed[tableName] = outcome.rows
		session.Findings = append(session.Findings, outcome.findings...)
		result.RowsSkipped += outcome.skipped
	}

	// Tombstoned keys map through the same rules so a restore into a sink
	// that still holds earlier chain state removes what the chain removed.
	deleted := make(map[string][]source.Row, len(tables))
	for _, tableName := range tables {
		keys := tombstones[tableName]
		if len(keys) == 0 {
			continue
		}
		outcome, err := transformTombstones(ruleSets.Tables[tableName], keys, session.Policy)
		if err != nil {
			return fail(err)
		}
		deleted[tableName] = outcome.rows
		session.Findings = append(session.Findings, outcome.findings...)
		result.RowsSkipped += outcome.skipped
	}
	if err := ctx.Err(); err != nil {
		return fail(apperrors.Classify(err))
	}

	// Commit. From here on cancellation no longer interrupts; a commit in
	// flight either lands completely or the sink rolls it back itself.
	if err := session.Transition(StateCommitting); err != nil {
		return fail(err)
	}
	commitCtx := context.WithoutCancel(ctx)

	tx, err := sink.Begin(commitCtx)
	if err != nil {
		return fail(apperrors.Classify(err))
	}

	// Replace-by-key: rows sharing a primary key with the incoming set
	// are deleted first, so repeating a restore is idempotent. Tombstoned
	// keys join the same pass so the sink loses rows the chain removed.
	// Deletes run children-first and writes parents-first to respect
	// foreign keys.
	writeOrder := orderParentsFirst(ruleSets, tables)
	for i := len(writeOrder) - 1; i >= 0; i-- {
		tableName := writeOrder[i]
		rows := transformed[tableName]
		dead := deleted[tableName]
		if len(rows) == 0 && len(dead) == 0 {
			continue
		}
		rs := ruleSets.Tables[tableName]
		keys := make([]source.Row, 0, len(rows)+len(dead))
		for _, row := range rows {
			keys = append(keys, archive.PrimaryKey(row, rs.Target.PrimaryKey))
		}
		keys = append(keys, dead...)
		if err := tx.DeleteRows(commitCtx, tableName, keys); err != nil {
			tx.Abort()
			return fail(apperrors.Classify(err))
		}
		result.RowsDeleted += len(dead)
	}
	for _, tableName := range writeOrder {
		rows := transformed[tableName]
		if len(rows) > 0 {
			if err := tx.WriteRows(commitCtx, tableName, rows); err != nil {
				tx.Abort()
				return fail(apperrors.Classify(err))
			}
		}
		result.RowsWritten += len(rows)
	}
	if err := tx.Commit(); err != nil {
		return fail(apperrors.Classify(err))
	}

	if err := session.Transition(StateCommitted); err != nil {
		return fail(err)
	}
	result.State = StateCommitted
	result.Findings = session.Findings
	result.Duration = time.Since(start)

	p.logger.WithFields(map[string]interface{}{
		"session_id":     session.ID,
		"archive_id":     archiveID,
		"source_version": sourceVersion.ID,
		"target_version": targetID,
		"rows_written":   result.RowsWritten,
		"rows_deleted":   result.RowsDeleted,
		"rows_skipped":   result.RowsSkipped,
	}).Info("restore committed")
	return result, nil
}

// Validate runs the resolve and validation phases for a would-be restore
// without touching any sink. The returned result carries the coverage
// score and every finding the real restore would report before writing;
// its state stays StateValidating on success because no data phase ran.
func (p *Pipeline) Validate(ctx context.Context, archiveID string, opts Options) (*Result, error) {
	session := NewSession(archiveID, opts.Policy, p.logger)
	start := time.Now()

	result := &Result{
		SessionID: session.ID,
		ArchiveID: archiveID,
		State:     StateResolving,
	}
	fail := func(err error) (*Result, error) {
		session.Fail(err)
		result.State = session.State
		result.Findings = session.Findings
		result.Duration = time.Since(start)
		return result, err
	}

	_, _, sourceVersion, err := p.engine.Snapshot(ctx, archiveID)
	if err != nil {
		return fail(err)
	}
	targetID := opts.TargetVersion
	if targetID == "" {
		targetID = sourceVersion.ID
	}
	result.SourceVersion = sourceVersion.ID
	result.TargetVersion = targetID

	ruleSets, err := p.rules.Chain(sourceVersion.ID, targetID)
	if err != nil {
		return fail(err)
	}
	if len(opts.Overrides) > 0 {
		ruleSets = ruleSets.WithOverrides(opts.Overrides)
	}
	if err := session.Transition(StateRuleChainReady); err != nil {
		return fail(err)
	}
	result.Coverage = ruleSets.Coverage()

	if err := session.Transition(StateValidating); err != nil {
		return fail(err)
	}
	for _, tableName := range sortedTables(ruleSets) {
		rs := ruleSets.Tables[tableName]
		if err := rs.Validate(); err != nil {
			return fail(err)
		}
		p.recordRuleFindings(session, rs)
	}
	if err := validateForeignKeys(ruleSets); err != nil {
		return fail(err)
	}

	result.State = session.State
	result.Findings = session.Findings
	result.Duration = time.Since(start)
	return result, nil
}

// recordRuleFindings surfaces the lossy or synthetic parts of a rule set so
// the operator sees what the restore will fabricate or discard.
func (p *Pipeline) recordRuleFindings(session *Session, rs *mapper.RuleSet) {
	fields := make([]string, 0, len(rs.Rules))
	for field := range rs.Rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		rule := rs.Rules[field]
		switch rule.Kind {
		case mapper.RuleDefaultFill:
			if rule.Default == nil {
				session.AddFinding(SeverityInfo, rs.Table, field, "filled with null")
			} else {
				session.AddFinding(SeverityInfo, rs.Table, field, "filled with default %v", rule.Default)
			}
		case mapper.RuleDrop:
			session.AddFinding(SeverityInfo, rs.Table, field, "source lineage dropped")
		case mapper.RuleTypeCoerce:
			session.AddFinding(SeverityInfo, rs.Table, field, "coerced via %s from %s", rule.CoercionID, rule.SourceField)
		}
	}
	for _, field := range rs.Unresolved {
		session.AddFinding(SeverityWarn, rs.Table, field, "no mapping inferred; nullable field restored as null")
	}
}

// validateForeignKeys ensures every foreign key of a restored table can be
// satisfied by the incoming data: the referenced table must itself be part
// of the rule sets and the referenced field must carry a rule that
// produces a value. Catching this here keeps dry runs honest; otherwise
// the failure only surfaces as a constraint violation at commit time.
func validateForeignKeys(ruleSets *mapper.VersionRuleSets) error {
	for _, tableName := range sortedTables(ruleSets) {
		rs := ruleSets.Tables[tableName]
		for _, fk := range rs.Target.ForeignKeys {
			ref, ok := ruleSets.Tables[fk.RefTable]
			if !ok {
				return apperrors.Errorf(apperrors.KindCoverageGap,
					"table %s foreign key %s references table %s, which is not part of the restore",
					tableName, fk.Field, fk.RefTable).
					WithContext("table", tableName).
					WithContext("ref_table", fk.RefTable)
			}
			rule, ok := ref.Rules[fk.RefField]
			if !ok || rule.Kind == mapper.RuleDrop {
				return apperrors.Errorf(apperrors.KindCoverageGap,
					"table %s foreign key %s references %s.%s, which has no resolved mapping",
					tableName, fk.Field, fk.RefTable, fk.RefField).
					WithContext("table", tableName).
					WithContext("ref_table", fk.RefTable).
					WithContext("ref_field", fk.RefField)
			}
		}
	}
	return nil
}

// orderParentsFirst returns the tables in an order where every table
// referenced by a foreign key precedes its referrer. Tables form the
// alphabetical base order; cycles degrade to that base order.
func orderParentsFirst(ruleSets *mapper.VersionRuleSets, tables []string) []string {
	inSet := make(map[string]bool, len(tables))
	for _, name := range tables {
		inSet[name] = true
	}

	var order []string
	placed := make(map[string]bool, len(tables))
	visiting := make(map[string]bool, len(tables))

	var place func(name string)
	place = func(name string) {
		if placed[name] || visiting[name] {
			return
		}
		visiting[name] = true
		rs := ruleSets.Tables[name]
		if rs != nil && rs.Target != nil {
			for _, fk := range rs.Target.ForeignKeys {
				if inSet[fk.RefTable] && fk.RefTable != name {
					place(fk.RefTable)
				}
			}
		}
		visiting[name] = false
		placed[name] = true
		order = append(order, name)
	}

	for _, name := range tables {
		place(name)
	}
	return order
}

func sortedTables(ruleSets *mapper.VersionRuleSets) []string {
	names := make([]string, 0, len(ruleSets.Tables))
	for name := range ruleSets.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
