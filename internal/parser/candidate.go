// Package parser turns free-text messages into event candidates with
// pattern matching and a deterministic confidence score.
package parser

import (
	"time"

	"smart-event-relay/internal/model"
)

// Message is the text the parser works on
type Message struct {
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// Candidate is a parsed event before persistence
type Candidate struct {
	Title      string
	Start      time.Time
	End        time.Time
	Location   string
	PrepItems  []string
	Confidence float64
	Provenance model.Provenance
}

// HasSchedule reports whether the candidate carries a start time
func (c Candidate) HasSchedule() bool {
	return !c.Start.IsZero()
}

// Accepted reports whether the candidate clears threshold
func (c Candidate) Accepted(threshold float64) bool {
	return c.Confidence >= threshold
}
