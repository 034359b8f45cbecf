package model

import (
	"sort"
	"time"
)

// TransactionType tags a submission record revision.
type TransactionType string

const (
	TransactionInitial TransactionType = "Initial"
	TransactionUpdated TransactionType = "Updated"
)

// SubmissionRecord is the persisted state of one case.
type SubmissionRecord struct {
	ArtifactID      string          `json:"artifact_id" bson:"artifact_id"`
	CaseID          string          `json:"case_id" bson:"case_id"`
	TxID            string          `json:"tx_id" bson:"tx_id"`
	Submission      Tree            `json:"submission_data" bson:"-"`
	Insights        AgentResults    `json:"agent_response,omitempty" bson:"-"`
	StatusDetails   map[string]any  `json:"submit_status_details,omitempty" bson:"-"`
	HistorySeq      int             `json:"history_sequence_id" bson:"history_sequence_id"`
	TransactionType TransactionType `json:"transaction_type" bson:"transaction_type"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

// AgentResults maps agent name to that agent's normalized reply, or to an
// error descriptor {"error": "..."} when the call failed.
type AgentResults map[string]map[string]any

// ErrorReply builds the error descriptor recorded for a failed agent.
func ErrorReply(desc string) map[string]any {
	return map[string]any{"error": desc}
}

// IsErrorReply reports whether reply is an error descriptor.
func IsErrorReply(reply map[string]any) bool {
	if len(reply) != 1 {
		return false
	}
	_, ok := reply["error"].(string)
	return ok
}

// Failed returns the sorted names of agents whose entry is an error.
func (r AgentResults) Failed() []string {
	var names []string
	for name, reply := range r {
		if IsErrorReply(reply) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
