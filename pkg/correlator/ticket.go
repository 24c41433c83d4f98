package correlator

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/itsm"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleCreateTicket opens the ticket for a confirmed down event, or
// records the do-not-create sentinel when the rule forbids one. A late
// up event still short-circuits to resolving.
func (p *Processor) handleCreateTicket(ctx context.Context, dc *dispatch.Context, event *store.EventRecord) error {
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

	settings, err := p.rules.Resolve(ctx, event.ToolName, event.EventTitle, event.EventLevel)
	if err != nil {
		return err
	}

	var ticketID int64
	switch {
	case event.Extras.HasTicket():
		// A previous pass already created the ticket but failed before
		// the document update. Just finish the move to alerted.
		ticketID = event.Extras.TicketValue()

	case settings.DoNotCreateTicket:
		zero := int64(0)
		event.Extras.TicketID = &zero
		// No ticket will ever exist, so there is nothing to comment on.
		event.Extras.AssetDownComment = true

	default:
		title := renderTemplate(settings.TicketTitleTemplate, doc)
		if title == "" {
			title = event.EventTitle
		}
		content := renderTemplate(settings.TicketDescTemplate, doc)
		if content == "" {
			content = doc.Str(types.FieldEventDesc)
		}

		id, err := p.openTicket(ctx, doc, settings.ITSMAssignGroup, itsm.TicketInput{
			Title:    title,
			Content:  content,
			Priority: itsm.PriorityForSeverity(settings.ITSMSeverity),
		})
		if err != nil {
			return dc.Report(ctx, event, fmt.Sprintf("Ticket creation failed: %v", err), true, true)
		}
		ticketID = id
		event.Extras.TicketID = &id
		metrics.TicketsCreated.Inc()
	}

	if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
		types.FieldITSMTicket:  ticketID,
		types.FieldEventStatus: types.StatusAlerted,
	})); err != nil {
		return err
	}
	event.Status = types.StatusAlerted
	event.RetryCount = 0
	return nil
}

// openTicket runs one create inside a short-lived session. The
// assignment group comes from the correlation rule, falling back to the
// deployment-wide configured group. Further assignment fields come from
// the document's itsm_settings object, which the ingest pipelines may
// fill per monitor tool.
func (p *Processor) openTicket(ctx context.Context, doc *elastic.Document, group int64, in itsm.TicketInput) (int64, error) {
	in.Extra = map[string]any{}
	if group == 0 {
		group = p.assignGroupID
	}
	if group > 0 {
		in.Extra["_groups_id_assign"] = group
	}
	if v, ok := doc.Nested("itsm_settings"); ok {
		if settings, ok := v.(map[string]any); ok {
			for k, val := range settings {
				in.Extra[k] = val
			}
		}
	}

	session, err := p.tickets.InitSession(ctx)
	if err != nil {
		return 0, err
	}
	defer session.Kill(ctx)

	return session.CreateTicket(ctx, in)
}
