package correlator

import (
	"context"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleSuppressed watches a down event that is hiding behind a parent.
// It leaves suppression when the parent resolved without an alert
// (supp_to_new), when a manual resolve came in, or when its own up
// event arrived. Otherwise it keeps the parent's ticket annotated.
func (p *Processor) handleSuppressed(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
	doc, err := p.docs.GetEvent(ctx, event.DocIndex, event.DocID)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Report(ctx, event, "Event Document Does not Exist.", false, true)
	}

	if doc.Flag(types.FieldSuppToNew) {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldEventStatus:      types.StatusNew,
			types.FieldParentEvent:      nil,
			types.FieldParentEventIndex: nil,
			types.FieldSuppToNew:        false,
		})); err != nil {
			return err
		}
		event.Status = types.StatusNew
		event.RetryCount = 0
		return nil
	}

	if types.ResolvingAction(doc.Str(types.FieldResolvingAction)) == types.ResolvingManual {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldEventStatus: types.StatusResolving,
		})); err != nil {
			return err
		}
		event.Status = types.StatusResolving
		event.RetryCount = 0
		return nil
	}

	if doc.Linked() {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldEventStatus:     types.StatusResolving,
			types.FieldResolvingAction: types.ResolvingSupp,
		})); err != nil {
			return err
		}
		event.Status = types.StatusResolving
		event.RetryCount = 0
		return nil
	}

	if err := p.ticketActivity(ctx, dc, event, doc, false); err != nil {
		return err
	}
	event.RetryCount++
	return nil
}
