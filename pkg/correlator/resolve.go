package correlator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleManualResolve applies an operator's resolve request, addressed
// by ticket id. Only the document is stamped; the event row is not
// locked here, so a handler holding it keeps running and picks the
// manual action up on its next pass. The manual action wins from then
// on.
func (p *Processor) handleManualResolve(ctx context.Context, dc *dispatch.Context, l *store.IngressLog) error {
	raw, ok := l.Payload["itsm_ticket"]
	if !ok {
		return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusFailed,
			"missing itsm_ticket")
	}
	ticket, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusFailed,
			fmt.Sprintf("invalid itsm_ticket %q", raw))
	}

	events, err := dc.Store.EventsByTicket(ctx, dc.DB, ticket)
	if err != nil {
		return err
	}
	if len(events) != 1 {
		return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusFailed,
			fmt.Sprintf("found %d alerted events for ticket %d", len(events), ticket))
	}

	e := events[0]
	if err := p.docs.UpdateEvent(ctx, e.DocIndex, e.DocID, stamped(map[string]any{
		types.FieldResolvingAction: types.ResolvingManual,
		types.FieldManualResolveTS: docTS(l.Created),
	})); err != nil {
		return err
	}

	dc.Logger.Info().Int64("ticket", ticket).Str("doc_id", e.DocID).Msg("manual resolve applied")
	return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusCompleted, "")
}
