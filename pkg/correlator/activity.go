package correlator

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// ticketActivity keeps the ticket that covers this event annotated: one
// comment when the event joins it (a child asset went down too), one
// when the event clears. The extras flags remember which comments are
// already posted, so retries never duplicate them.
//
// For a suppressed child the ticket belongs to the parent event and is
// copied into the child's extras on first contact. A ticket id of 0 is
// the do-not-create sentinel; the flags are set without any comment.
func (p *Processor) ticketActivity(ctx context.Context, dc *dispatch.Context, event *store.EventRecord, doc *elastic.Document, resolving bool) error {
	if !event.Extras.HasTicket() {
		parentID := doc.Str(types.FieldParentEvent)
		if parentID == "" {
			return nil
		}
		parent, err := p.docs.GetEvent(ctx, doc.Str(types.FieldParentEventIndex), parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return dc.Report(ctx, event, fmt.Sprintf("Parent Event [%s] Does not Exist.", parentID), false, true)
		}
		if !parent.HasKey(types.FieldITSMTicket) {
			// The parent has not reached ticket handling yet. Try again
			// on the next pass.
			return nil
		}
		ticket := parent.Int64(types.FieldITSMTicket)
		event.Extras.TicketID = &ticket
	}

	ticket := event.Extras.TicketValue()
	if !doc.HasKey(types.FieldITSMTicket) {
		if err := p.docs.UpdateEvent(ctx, event.DocIndex, event.DocID, stamped(map[string]any{
			types.FieldITSMTicket: ticket,
		})); err != nil {
			return err
		}
	}

	if ticket == 0 {
		event.Extras.AssetDownComment = true
		if resolving {
			event.Extras.AssetUpComment = true
		}
		return nil
	}

	var comment string
	if !resolving {
		if event.Extras.AssetDownComment {
			return nil
		}
		comment = fmt.Sprintf("Child Asset `%s` has reported similar issue at %s.",
			event.AssetUniqueID, docTS(event.EventTS))
	} else {
		if event.Extras.AssetUpComment {
			return nil
		}
		action := types.ResolvingAction(doc.Str(types.FieldResolvingAction))
		switch {
		case action == types.ResolvingCloseTicket:
			comment = fmt.Sprintf("Asset `%s` which reported this issue is now Resolved.",
				event.AssetUniqueID)
		case !event.Extras.AssetDownComment:
			// The down comment never made it; fold both into one.
			comment = fmt.Sprintf("Child Asset `%s` has reported similar issue at %s but it is now Resolved.",
				event.AssetUniqueID, docTS(event.EventTS))
		default:
			comment = fmt.Sprintf("Child Asset `%s` which had reported similar issue is now Resolved.",
				event.AssetUniqueID)
		}
	}

	if err := p.postComment(ctx, ticket, comment); err != nil {
		return dc.Report(ctx, event, fmt.Sprintf("Ticket comment failed: %v", err), false, true)
	}

	event.Extras.AssetDownComment = true
	if resolving {
		event.Extras.AssetUpComment = true
	}
	return nil
}

func (p *Processor) postComment(ctx context.Context, ticket int64, comment string) error {
	session, err := p.tickets.InitSession(ctx)
	if err != nil {
		return err
	}
	defer session.Kill(ctx)
	return session.AddComment(ctx, ticket, comment)
}
