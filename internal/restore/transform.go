package restore

import (
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/archive"
	"dbrewind/internal/mapper"
	"dbrewind/internal/schema"
	"dbrewind/internal/source"
)

// tableOutcome is the transformed row set for one table plus per-row
// findings collected along the way.
type tableOutcome struct {
	rows     []source.Row
	findings []Finding
	skipped  int
}

// transformTable maps every archived source row of one table onto the
// target schema using the table's rule set. Rows are processed by a worker
// pool; the output is reordered by target primary key so the result is
// independent of worker scheduling.
func transformTable(ctx context.Context, rs *mapper.RuleSet, rows []source.Row, policy RowPolicy, workers int) (*tableOutcome, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(rows) {
		workers = len(rows)
	}

	transformed := make([]source.Row, len(rows))
	rowErrs := make([]error, len(rows))

	if len(rows) > 0 {
		group, groupCtx := errgroup.WithContext(ctx)
		indexes := make(chan int)

		group.Go(func() error {
			defer close(indexes)
			for i := range rows {
				select {
				case indexes <- i:
				case <-groupCtx.Done():
					return apperrors.Classify(groupCtx.Err())
				}
			}
			return nil
		})

		for w := 0; w < workers; w++ {
			group.Go(func() error {
				for i := range indexes {
					out, err := applyRules(rs, rows[i])
					transformed[i] = out
					rowErrs[i] = err
				}
				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	outcome := &tableOutcome{}
	for i, err := range rowErrs {
		if err == nil {
			outcome.rows = append(outcome.rows, transformed[i])
			continue
		}
		if policy == RowPolicyStrict {
			return nil, apperrors.Classify(err).
				WithContext("table", rs.Table).
				WithContext("row_key", archive.KeyString(rows[i], sourceKeyFields(rs)))
		}
		outcome.skipped++
		outcome.findings = append(outcome.findings, Finding{
			Severity: SeverityWarn,
			Table:    rs.Table,
			Message:  "row " + archive.KeyString(rows[i], sourceKeyFields(rs)) + " skipped: " + err.Error(),
		})
	}

	sortByTargetKey(outcome.rows, rs.Target.PrimaryKey)
	return outcome, nil
}

// transformTombstones maps archived tombstone keys onto the target key
// space so the commit can delete rows the chain removed. Only the rules
// feeding the target primary key apply; a key that cannot be mapped is
// skipped or fails the run per the row policy, like any other row.
func transformTombstones(rs *mapper.RuleSet, keys []source.Row, policy RowPolicy) (*tableOutcome, error) {
	outcome := &tableOutcome{}
	for _, key := range keys {
		out := make(source.Row, len(rs.Target.PrimaryKey))
		var rowErr error
		for _, field := range rs.Target.PrimaryKey {
			rule, ok := rs.Rules[field]
			if !ok || rule.Kind == mapper.RuleDrop {
				rowErr = apperrors.Errorf(apperrors.KindCoverageGap,
					"key field %s has no resolved mapping", field)
				break
			}
			value, err := rule.Apply(key)
			if err != nil {
				rowErr = err
				break
			}
			out[field] = value
		}
		if rowErr == nil {
			outcome.rows = append(outcome.rows, out)
			continue
		}
		if policy == RowPolicyStrict {
			return nil, apperrors.Classify(rowErr).
				WithContext("table", rs.Table).
				WithContext("row_key", archive.KeyString(key, sourceKeyFields(rs)))
		}
		outcome.skipped++
		outcome.findings = append(outcome.findings, Finding{
			Severity: SeverityWarn,
			Table:    rs.Table,
			Message:  "deleted row " + archive.KeyString(key, sourceKeyFields(rs)) + " skipped: " + rowErr.Error(),
		})
	}
	sortByTargetKey(outcome.rows, rs.Target.PrimaryKey)
	return outcome, nil
}

// applyRules builds one target row. Target fields whose lineage was
// dropped or never resolved fall back to the schema default, or null;
// validation has already rejected the cases where that is not allowed.
func applyRules(rs *mapper.RuleSet, row source.Row) (source.Row, error) {
	out := make(source.Row, len(rs.Target.Fields))
	for i := range rs.Target.Fields {
		field := &rs.Target.Fields[i]

		rule, ok := rs.Rules[field.Name]
		if !ok || rule.Kind == mapper.RuleDrop {
			value, err := fallbackValue(field)
			if err != nil {
				return nil, err
			}
			out[field.Name] = value
			continue
		}

		value, err := rule.Apply(row)
		if err != nil {
			return nil, err
		}
		out[field.Name] = value
	}
	return out, nil
}

func fallbackValue(field *schema.FieldDef) (interface{}, error) {
	if field.HasDefault() {
		return mapper.ParseDefault(field.Type, *field.Default)
	}
	return nil, nil
}

func sortByTargetKey(rows []source.Row, pkFields []string) {
	sort.Slice(rows, func(i, j int) bool {
		return archive.KeyString(rows[i], pkFields) < archive.KeyString(rows[j], pkFields)
	})
}

func sourceKeyFields(rs *mapper.RuleSet) []string {
	if rs.Source != nil {
		return rs.Source.PrimaryKey
	}
	return rs.Target.PrimaryKey
}
