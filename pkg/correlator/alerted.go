package correlator

import (
	"context"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleAlerted watches a ticketed down event until something resolves
// it: a manual resolve request or its own up event. Everything else is
// just another recheck.
func (p *Processor) handleAlerted(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
	doc, err := p.docs.GetEvent(ctx, event.DocIndex, event.DocID)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Report(ctx, event, "Event Document Does not Exist.", false, true)
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
			types.FieldResolvingAction: types.ResolvingCloseTicket,
		})); err != nil {
			return err
		}
		event.Status = types.StatusResolving
		event.RetryCount = 0
		return nil
	}

	event.RetryCount++
	return nil
}
