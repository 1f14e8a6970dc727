package convstore

import (
	"emergencyline/app/service/ledger"
	"time"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

type Utterance struct {
	Text      string
	Timestamp time.Time
}

// Session is a snapshot of one call's conversation state. The live
// record stays owned by the store; callers only ever see copies.
type Session struct {
	CallID     string
	Utterances []Utterance
	Category   ledger.Category
	Status     Status
}
