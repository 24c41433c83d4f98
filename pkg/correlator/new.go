package correlator

import (
	"context"
	"time"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleNewUp links an up event to the active down events it clears.
// The first pass without a match just waits: the matching down may
// still be in flight. Only a second miss is an error.
func (p *Processor) handleNewUp(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
	doc, err := p.docs.GetEvent(ctx, event.DocIndex, event.DocID)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Report(ctx, event, "Event Document Does not Exist.", false, true)
	}

	downs, err := p.latestMatchingDowns(ctx, event)
	if err != nil {
		return err
	}

	if len(downs.Hits) == 0 {
		if event.RetryCount > 0 {
			if err := dc.Report(ctx, event, "Missing Down Event", false, false); err != nil {
				return err
			}
			if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
				types.FieldEventStatus: types.StatusError,
				types.FieldErrorReason: "Missing Down Event",
			})); err != nil {
				return err
			}
			event.Status = types.StatusError
			return nil
		}
		event.RetryCount++
		return nil
	}

	latest := downs.Hits[0]
	if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
		types.FieldLinkedEvent:      latest.ID,
		types.FieldLinkedEventIndex: latest.Index,
		types.FieldEventStatus:      types.StatusResolved,
	})); err != nil {
		return err
	}
	event.Status = types.StatusResolved
	event.RetryCount = 0

	if err := p.docs.UpdateEvent(ctx, latest.Index, latest.ID, stamped(map[string]any{
		types.FieldLinkedEvent:      event.DocID,
		types.FieldLinkedEventIndex: event.DocIndex,
	})); err != nil {
		return err
	}

	// Older matching downs get the same link in one round trip. Each of
	// them picks the link up on its own recheck cycle, so a partial
	// failure here costs latency, not correctness.
	if len(downs.Hits) > 1 {
		ops := make([]elastic.BulkOp, 0, len(downs.Hits)-1)
		for _, d := range downs.Hits[1:] {
			ops = append(ops, elastic.BulkOp{
				Index: d.Index,
				ID:    d.ID,
				Fields: stamped(map[string]any{
					types.FieldLinkedEvent:      event.DocID,
					types.FieldLinkedEventIndex: event.DocIndex,
				}),
			})
		}
		if err := p.docs.BulkUpdate(ctx, ops); err != nil {
			if rerr := dc.Report(ctx, event, "Failed to link older down events", false, false); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}

// handleNewDown decides what a fresh down event is: already cleared by
// an up, a duplicate of an earlier down, a child of a broken parent
// asset, or a genuine alert that needs a ticket once the wait window
// passes.
func (p *Processor) handleNewDown(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
	doc, err := p.docs.GetEvent(ctx, event.DocIndex, event.DocID)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Report(ctx, event, "Event Document Does not Exist.", false, true)
	}

	if doc.Linked() {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldEventStatus:     types.StatusResolving,
			types.FieldResolvingAction: types.ResolvingNew,
		})); err != nil {
			return err
		}
		event.Status = types.StatusResolving
		event.RetryCount = 0
		return nil
	}

	if event.RetryCount < dedupRetryLimit {
		earliest, err := p.earliestMatchingDown(ctx, event)
		if err != nil {
			return err
		}
		if earliest != nil && earliest.ID != event.DocID {
			if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
				types.FieldInitialEvent:      earliest.ID,
				types.FieldInitialEventIndex: earliest.Index,
				types.FieldEventStatus:       types.StatusDeduped,
			})); err != nil {
				return err
			}
			event.Status = types.StatusDeduped
			return nil
		}
	}

	settings, err := p.rules.Resolve(ctx, event.ToolName, event.EventTitle, event.EventLevel)
	if err != nil {
		return err
	}

	if settings.LookupParent && event.ParentAssetUniqueID != "" {
		parent, err := p.earliestParentDown(ctx, event)
		if err != nil {
			return err
		}
		if parent != nil && parent.ID != event.DocID {
			fields := map[string]any{
				types.FieldParentEvent:      parent.ID,
				types.FieldParentEventIndex: parent.Index,
				types.FieldEventStatus:      types.StatusSuppressed,
			}
			if parent.HasKey(types.FieldITSMTicket) {
				ticket := parent.Int64(types.FieldITSMTicket)
				fields[types.FieldITSMTicket] = ticket
				event.Extras.TicketID = &ticket
			}
			if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(fields)); err != nil {
				return err
			}
			event.Status = types.StatusSuppressed
			event.RetryCount = 0
			return nil
		}
	}

	if time.Since(event.EventTS) > settings.WaitTime {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldEventStatus: types.StatusCreatingTicket,
		})); err != nil {
			return err
		}
		event.Status = types.StatusCreatingTicket
		event.RetryCount = 0
		return nil
	}

	event.RetryCount++
	return nil
}
