// Package index runs incremental connector indexing: fetch a window of
// external items, materialize them as documents with chunks, and
// advance the connector checkpoint once ingestion is confirmed.
package index

import (
	"fmt"
	"strings"
)

// Status classifies an indexing run.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusWarning Status = "WARNING"
	StatusFailure Status = "FAILURE"
)

// Outcome is the result of one indexing run.
type Outcome struct {
	Status  Status
	Message string

	// FailedItems lists external ids of items that failed to transform
	// or write; populated for Warning outcomes.
	FailedItems []string
}

// Success builds a fully-successful outcome.
func Success(indexed int) Outcome {
	return Outcome{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Indexed %d documents", indexed),
	}
}

// Warning builds a partial-success outcome. The message keeps the
// "Indexed" marker the checkpoint policy looks for.
func Warning(indexed, total int, failed []string) Outcome {
	return Outcome{
		Status:      StatusWarning,
		Message:     fmt.Sprintf("Indexed %d of %d items; %d failed", indexed, total, len(failed)),
		FailedItems: failed,
	}
}

// Failure builds a failed outcome. The checkpoint never advances on it.
func Failure(message string, failed []string) Outcome {
	return Outcome{Status: StatusFailure, Message: message, FailedItems: failed}
}

// AdvancesCheckpoint reports whether this outcome permits moving
// last_indexed_at forward: a success, or a partial success whose
// message confirms documents were indexed.
func (o Outcome) AdvancesCheckpoint() bool {
	switch o.Status {
	case StatusSuccess:
		return true
	case StatusWarning:
		return strings.Contains(o.Message, "Indexed")
	default:
		return false
	}
}
