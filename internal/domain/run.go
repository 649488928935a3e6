package domain

import "time"

// MatchState records whether a declared rule matched an existing remote rule.
type MatchState string

const (
	MatchPending   MatchState = "pending"
	MatchMatched   MatchState = "matched"
	MatchUnmatched MatchState = "unmatched"
)

// OutcomeState is the terminal state of a declared rule within a run.
type OutcomeState string

const (
	OutcomePending        OutcomeState = "pending"
	OutcomeDryRunReported OutcomeState = "dry_run_reported"
	OutcomeApplied        OutcomeState = "applied"
	OutcomeFailed         OutcomeState = "failed"
)

// RuleAction is the remote operation chosen for a declared rule.
type RuleAction string

const (
	ActionCreate RuleAction = "create"
	ActionUpdate RuleAction = "update"
)

// RunStatus is the status of a reconciliation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RuleOutcome is the result of reconciling one declared rule.
type RuleOutcome struct {
	ID           string          `json:"id" db:"id"`
	RunID        string          `json:"run_id" db:"run_id"`
	Position     int             `json:"position" db:"position"`
	RuleName     string          `json:"rule_name" db:"rule_name"`
	Match        MatchState      `json:"match" db:"match_state"`
	State        OutcomeState    `json:"state" db:"state"`
	Action       RuleAction      `json:"action" db:"action"`
	RemoteRuleID string          `json:"remote_rule_id,omitempty" db:"remote_rule_id"`
	Expression   string          `json:"expression" db:"expression"`
	ErrorKind    RemoteErrorKind `json:"error_kind,omitempty" db:"error_kind"`
	StatusCode   int             `json:"status_code,omitempty" db:"status_code"`
	Error        string          `json:"error,omitempty" db:"error"`
}

// RunReport summarises a reconciliation run.
type RunReport struct {
	Handle   RulesetHandle  `json:"handle"`
	DryRun   bool           `json:"dry_run"`
	Outcomes []*RuleOutcome `json:"outcomes"`
}

// Count returns how many outcomes ended in the given state.
func (r *RunReport) Count(state OutcomeState) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// CountAction returns how many applied outcomes performed the given action.
func (r *RunReport) CountAction(action RuleAction) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.State == OutcomeApplied && o.Action == action {
			n++
		}
	}
	return n
}

// Run is the persisted audit record of a reconciliation run.
type Run struct {
	ID         string     `json:"id" db:"id"`
	ZoneID     string     `json:"zone_id" db:"zone_id"`
	RulesetID  string     `json:"ruleset_id,omitempty" db:"ruleset_id"`
	DryRun     bool       `json:"dry_run" db:"dry_run"`
	Trigger    string     `json:"trigger" db:"trigger_source"` // "manual", "debounce", "interval"
	Status     RunStatus  `json:"status" db:"status"`
	Created    int        `json:"created" db:"created_count"`
	Updated    int        `json:"updated" db:"updated_count"`
	Reported   int        `json:"dry_run_reported" db:"reported_count"`
	Failed     int        `json:"failed" db:"failed_count"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`

	Outcomes []*RuleOutcome `json:"outcomes,omitempty" db:"-"`
}

// SyncResponse is returned after a sync operation.
type SyncResponse struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	DryRun   bool      `json:"dry_run"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Reported int       `json:"dry_run_reported"`
	Failed   int       `json:"failed"`
	Error    string    `json:"error,omitempty"`
}
