package dispatch

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// maxErrorRepeat is how often the same (event, status, message) error
// may repeat before the task gives up for good.
const maxErrorRepeat = 10

// Reporter records handler errors. The returned error is nil unless the
// failure is fatal for the task run.
type Reporter interface {
	Report(ctx context.Context, dc *Context, event *store.EventRecord, message string, incrementRetry, checkRepeat bool) error
}

// UpsertFunc writes one error log row and returns its repeat count.
type UpsertFunc func(ctx context.Context, db store.DB, eventID int64, status types.EventStatus, message string) (int, error)

// Accumulator is the production Reporter. Repeats of the same error
// bump a counter instead of growing the log table, and a repeat count
// past the threshold turns into a FatalError.
type Accumulator struct {
	upsert UpsertFunc
}

// NewAccumulator wires the accumulator to the store.
func NewAccumulator(s *store.Store) *Accumulator {
	return &Accumulator{upsert: s.UpsertErrorLog}
}

// NewAccumulatorWithUpsert is for tests.
func NewAccumulatorWithUpsert(upsert UpsertFunc) *Accumulator {
	return &Accumulator{upsert: upsert}
}

// Report implements Reporter.
func (a *Accumulator) Report(ctx context.Context, dc *Context, event *store.EventRecord, message string, incrementRetry, checkRepeat bool) error {
	repeat, err := a.upsert(ctx, dc.DB, event.ID, event.Status, message)
	if err != nil {
		return fmt.Errorf("recording error log: %w", err)
	}
	if incrementRetry {
		event.RetryCount++
	}
	dc.Logger.Warn().Int64("event_id", event.ID).Str("status", string(event.Status)).
		Int("repeat", repeat).Msg(message)

	if checkRepeat && repeat > maxErrorRepeat {
		return &FatalError{Message: fmt.Sprintf("%s [repeated %d times]", message, repeat)}
	}
	return nil
}
