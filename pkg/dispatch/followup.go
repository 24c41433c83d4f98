package dispatch

import (
	"time"

	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// Polling cadences. Fresh events are rechecked quickly; settled ones
// (suppressed with the ticket comment posted, alerted, resolving) can
// wait longer.
const (
	shortRecheck = 10 * time.Second
	longRecheck  = 30 * time.Second
)

// FollowUp decides which task an event needs next and after what delay,
// based on the status the event holds after the current task. Terminal
// statuses need nothing.
func FollowUp(e *store.EventRecord) (name string, delay time.Duration, ok bool) {
	switch e.Status {
	case types.StatusNew:
		switch e.EventType {
		case types.EventTypeDown:
			return TaskNewDown, shortRecheck, true
		case types.EventTypeUp:
			return TaskNewUp, shortRecheck, true
		}
		return "", 0, false
	case types.StatusSuppressed:
		if e.Extras.AssetDownComment {
			return TaskSuppressed, longRecheck, true
		}
		return TaskSuppressed, shortRecheck, true
	case types.StatusCreatingTicket:
		return TaskCreateTicket, shortRecheck, true
	case types.StatusAlerted:
		return TaskAlerted, longRecheck, true
	case types.StatusResolving:
		return TaskResolving, longRecheck, true
	}
	return "", 0, false
}
