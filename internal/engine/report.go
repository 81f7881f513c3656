package engine

import "time"

// Status classifies the outcome of one occurrence within a tick.
type Status string

const (
	// StatusDelivered means the greeting was sent and the ledger updated.
	StatusDelivered Status = "delivered"
	// StatusFailed means dispatch failed; the occurrence stays pending
	// until the retry window closes.
	StatusFailed Status = "failed"
	// StatusMissingDestination means no chat id could be resolved.
	StatusMissingDestination Status = "missing_destination"
	// StatusAbandoned means the occurrence aged out of the retry window
	// without ever being delivered.
	StatusAbandoned Status = "abandoned"
)

// OutcomeRecord is the per-recipient result of one tick.
type OutcomeRecord struct {
	Identity  string
	Name      string
	Date      string // occurrence date, MM-DD
	ChatID    int64
	Status    Status
	IsBelated bool
	DaysLate  int
	Attempts  int
	Error     string
	At        time.Time
}

// TickReport aggregates the outcomes of one delivery tick.
type TickReport struct {
	StartedAt          time.Time
	Delivered          int
	Failed             int
	MissingDestination int
	Abandoned          int
	Outcomes           []OutcomeRecord
}

func (r *TickReport) add(o OutcomeRecord) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusDelivered:
		r.Delivered++
	case StatusFailed:
		r.Failed++
	case StatusMissingDestination:
		r.MissingDestination++
	case StatusAbandoned:
		r.Abandoned++
	}
}
