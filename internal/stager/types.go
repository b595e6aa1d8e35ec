// Package stager defines the run model and the collaborator interfaces shared
// by the staging pipeline, its ledgers and its notifiers.
package stager

import "time"

// RunState is the lifecycle state of a staging run.
type RunState string

// Run states. Promoted and Failed are terminal.
const (
	RunStateInitialized RunState = "initialized"
	RunStatePopulating  RunState = "populating"
	RunStatePromoted    RunState = "promoted"
	RunStateFailed      RunState = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s RunState) Terminal() bool {
	return s == RunStatePromoted || s == RunStateFailed
}

// RunCounters tracks what a run has written so far.
type RunCounters struct {
	Pages            int `json:"pages"`
	RecordsReceived  int `json:"records_received"`
	RecordsAccepted  int `json:"records_accepted"`
	RecordsOversized int `json:"records_oversized"`
	Batches          int `json:"batches"`
	Synonyms         int `json:"synonyms"`
}

// Run is the metadata persisted for each staging run.
type Run struct {
	ID           string      `json:"id"`
	LiveIndex    string      `json:"live_index"`
	StagingIndex string      `json:"staging_index"`
	State        RunState    `json:"state"`
	Started      time.Time   `json:"started_at"`
	Updated      time.Time   `json:"updated_at"`
	Finished     *time.Time  `json:"finished_at,omitempty"`
	ErrorText    string      `json:"error_text,omitempty"`
	Counters     RunCounters `json:"counters"`
}

// PromotionEvent is published once the staging index replaced the live one.
type PromotionEvent struct {
	RunID        string      `json:"run_id"`
	LiveIndex    string      `json:"live_index"`
	StagingIndex string      `json:"staging_index"`
	PromotedAt   time.Time   `json:"promoted_at"`
	Counters     RunCounters `json:"counters"`
}
