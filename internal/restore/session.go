// Package restore drives the multi-phase pipeline that turns a stored
// archive into rows written to a live target under a different schema
// version.
package restore

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"dbrewind/internal/apperrors"
	"dbrewind/internal/logging"
)

// State is the restore session lifecycle. Transitions only ever move
// forward, except that any state before Committed may fall to RolledBack.
type State string

const (
	StateResolving      State = "resolving"
	StateRuleChainReady State = "rule_chain_ready"
	StateValidating     State = "validating"
	StateTransforming   State = "transforming"
	StateCommitting     State = "committing"
	StateCommitted      State = "committed"
	StateRolledBack     State = "rolled_back"
)

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

var validTransitions = map[State][]State{
	StateResolving:      {StateRuleChainReady, StateRolledBack},
	StateRuleChainReady: {StateValidating, StateRolledBack},
	StateValidating:     {StateTransforming, StateRolledBack},
	StateTransforming:   {StateCommitting, StateRolledBack},
	StateCommitting:     {StateCommitted, StateRolledBack},
}

// RowPolicy decides what a row-level transform failure does to the session.
type RowPolicy string

const (
	// RowPolicySkip records a finding for the failed row and continues.
	RowPolicySkip RowPolicy = "skip"
	// RowPolicyStrict fails the whole restore on the first bad row.
	RowPolicyStrict RowPolicy = "strict"
)

// Severity grades findings accumulated during a restore.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Finding is one observation surfaced to the operator: a filled default, a
// dropped field, a skipped row, or the error that rolled the session back.
type Finding struct {
	Severity Severity `json:"severity"`
	Table    string   `json:"table,omitempty"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// Session tracks one restore run through its phases.
type Session struct {
	ID            string
	ArchiveID     string
	SourceVersion string
	TargetVersion string
	Policy        RowPolicy

	State     State
	Findings  []Finding
	StartedAt time.Time

	logger *logging.Logger
}

// NewSession starts a session in StateResolving.
func NewSession(archiveID string, policy RowPolicy, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if policy == "" {
		policy = RowPolicySkip
	}
	return &Session{
		ID:        uuid.New().String(),
		ArchiveID: archiveID,
		Policy:    policy,
		State:     StateResolving,
		StartedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// Transition advances the session state, rejecting any move the lifecycle
// does not allow.
func (s *Session) Transition(to State) error {
	for _, allowed := range validTransitions[s.State] {
		if allowed == to {
			s.logger.LogPhaseTransition(s.ID, string(s.State), string(to), time.Since(s.StartedAt))
			s.State = to
			return nil
		}
	}
	return apperrors.Errorf(apperrors.KindUnknown,
		"invalid session transition from %s to %s", s.State, to)
}

// AddFinding appends one finding to the session record.
func (s *Session) AddFinding(severity Severity, table, field, format string, args ...interface{}) {
	s.Findings = append(s.Findings, Finding{
		Severity: severity,
		Table:    table,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Fail rolls the session back and records the cause as an error finding.
func (s *Session) Fail(err error) {
	if !s.State.Terminal() {
		s.logger.LogPhaseTransition(s.ID, string(s.State), string(StateRolledBack), time.Since(s.StartedAt))
		s.State = StateRolledBack
	}
	if err != nil {
		s.Findings = append(s.Findings, Finding{
			Severity: SeverityError,
			Message:  err.Error(),
		})
	}
}
