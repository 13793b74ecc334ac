package order

import (
	"context"

	"perp-core/internal/state"
	"perp-core/pkg/db"
)

// Stage is where an entry attempt ended up.
type Stage string

const (
	StageNone                    Stage = "NONE"
	StageEntrySubmitted          Stage = "ENTRY_SUBMITTED"
	StageEntryFilled             Stage = "ENTRY_FILLED"
	StageProtected               Stage = "PROTECTED"
	StageEntryFailed             Stage = "ENTRY_FAILED"
	StageEntryPartialUnwound     Stage = "ENTRY_PARTIAL_UNWOUND"
	StageProtectionFailedUnwound Stage = "PROTECTION_FAILED_UNWOUND"
)

// Entry is a sized long entry with its protective trigger prices.
type Entry struct {
	Symbol     string
	Qty        float64
	Price      float64 // reference price; market entries fill at the venue price
	StopLoss   float64
	TakeProfit float64
}

// Attempt reports the outcome of one OpenLong call.
type Attempt struct {
	Stage    Stage
	Outcome  FillOutcome
	Position *state.Position // set only when Stage is StageProtected
	// Cause is the failure that moved the attempt off the happy path, if any.
	Cause    error
}

// Journal persists every order the executor submits.
type Journal interface {
	RecordOrder(ctx context.Context, o db.OrderRecord) error
}

// Recorder counts submitted orders.
type Recorder interface {
	Order(orderType string, simulated bool)
}
