package correlator

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// closingComment goes on the ticket right before it is closed.
const closingComment = "All assets that report this issue have now Resolved. Closing the Ticket."

// handleResolving walks an event out the door. What that takes depends
// on why it entered resolving:
//
//   - close_ticket / supp: post the resolution comment, wait for every
//     child to resolve, then (close_ticket only) close the ticket. A
//     parent never reaches resolved here while a child is still
//     suppressed or resolving.
//   - new: the event resolved before alerting, so its children go back
//     to new and re-correlate on their own. The parent resolves in the
//     same pass; the children no longer need it.
//   - manual: the manual resolve cascades to every child, and the
//     parent resolves in the same pass.
func (p *Processor) handleResolving(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
	doc, err := p.docs.GetEvent(ctx, event.DocIndex, event.DocID)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Report(ctx, event, "Event Document Does not Exist.", false, true)
	}

	action := types.ResolvingAction(doc.Str(types.FieldResolvingAction))
	switch action {
	case types.ResolvingCloseTicket, types.ResolvingSupp:
		if err := p.ticketActivity(ctx, dc, event, doc, true); err != nil {
			return err
		}
		if !event.Extras.AssetUpComment {
			event.RetryCount++
			return nil
		}
		child, err := p.firstActiveChild(ctx, event.DocID)
		if err != nil {
			return err
		}
		if child != nil {
			event.RetryCount++
			return nil
		}

	case types.ResolvingNew:
		if err := p.releaseChildren(ctx, event.DocID); err != nil {
			return err
		}

	case types.ResolvingManual:
		if err := p.cascadeManual(ctx, doc, event.DocID); err != nil {
			return err
		}
	}

	if action == types.ResolvingCloseTicket && event.Extras.TicketValue() > 0 {
		if err := p.closeTicket(ctx, event.Extras.TicketValue()); err != nil {
			if rerr := dc.Report(ctx, event, fmt.Sprintf("Ticket close failed: %v", err), true, true); rerr != nil {
				return rerr
			}
			return nil
		}
		metrics.TicketsClosed.Inc()
	}

	if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
		types.FieldEventStatus: types.StatusResolved,
	})); err != nil {
		return err
	}
	event.Status = types.StatusResolved
	event.RetryCount = 0

	if err := dc.Store.ResolveErrorLogs(ctx, dc.DB, event.ID); err != nil {
		dc.Logger.Warn().Err(err).Int64("event_id", event.ID).Msg("marking error logs resolved")
	}
	return nil
}

// releaseChildren sends suppressed children back to new and redirects
// resolving children, because this parent resolved without an alert and
// can no longer stand in for them.
func (p *Processor) releaseChildren(ctx context.Context, parentDocID string) error {
	children, err := p.activeChildren(ctx, parentDocID)
	if err != nil {
		return err
	}
	ops := make([]elastic.BulkOp, 0, len(children))
	for _, c := range children {
		switch c.Status() {
		case types.StatusSuppressed:
			ops = append(ops, elastic.BulkOp{Index: c.Index, ID: c.ID, Fields: stamped(map[string]any{
				types.FieldSuppToNew: true,
			})})
		case types.StatusResolving:
			ops = append(ops, elastic.BulkOp{Index: c.Index, ID: c.ID, Fields: stamped(map[string]any{
				types.FieldResolvingAction: string(types.ResolvingNew),
			})})
		}
	}
	return p.docs.BulkUpdate(ctx, ops)
}

// cascadeManual stamps every active child with the manual resolve, so
// their own cycles move them to resolving as well.
func (p *Processor) cascadeManual(ctx context.Context, doc *elastic.Document, parentDocID string) error {
	children, err := p.activeChildren(ctx, parentDocID)
	if err != nil {
		return err
	}
	manualTS := doc.Str(types.FieldManualResolveTS)
	ops := make([]elastic.BulkOp, 0, len(children))
	for _, c := range children {
		ops = append(ops, elastic.BulkOp{Index: c.Index, ID: c.ID, Fields: stamped(map[string]any{
			types.FieldResolvingAction: string(types.ResolvingManual),
			types.FieldManualResolveTS: manualTS,
		})})
	}
	return p.docs.BulkUpdate(ctx, ops)
}

func (p *Processor) closeTicket(ctx context.Context, ticket int64) error {
	session, err := p.tickets.InitSession(ctx)
	if err != nil {
		return err
	}
	defer session.Kill(ctx)

	if err := session.AddComment(ctx, ticket, closingComment); err != nil {
		return err
	}
	return session.CloseTicket(ctx, ticket)
}
