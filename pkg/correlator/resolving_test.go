package correlator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/rules"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

func resolvingEvent(action types.ResolvingAction) (*store.EventRecord, *elastic.Document) {
	e := downEvent()
	e.Status = types.StatusResolving
	doc := newDoc(e.DocIndex, e.DocID, map[string]any{
		types.FieldResolvingAction: string(action),
	})
	return e, doc
}

func TestResolvingCloseTicketFullPath(t *testing.T) {
	event, doc := resolvingEvent(types.ResolvingCloseTicket)
	ticket := int64(77)
	event.Extras.TicketID = &ticket
	doc.Source[types.FieldITSMTicket] = float64(77)

	docs := newFakeDocs(doc)
	session := &fakeSession{}
	records := &fakeRecords{}
	p := newProcessor(docs, session, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(records, nil), event))

	assert.Equal(t, types.StatusResolved, event.Status)
	assert.True(t, event.Extras.AssetUpComment)

	require.Len(t, session.comments, 2)
	assert.Equal(t, "Asset `RTR-01` which reported this issue is now Resolved.", session.comments[0].text)
	assert.Equal(t, closingComment, session.comments[1].text)
	assert.Equal(t, []int64{77}, session.closed)

	fields := docs.lastUpdateFor(event.DocID)
	assert.Equal(t, types.StatusResolved, fields[types.FieldEventStatus])
	assert.NotEmpty(t, fields[types.FieldLastUpdateTS])
	assert.Equal(t, []int64{event.ID}, records.resolvedLogs)
}

func TestResolvingBlockedByActiveChild(t *testing.T) {
	event, doc := resolvingEvent(types.ResolvingCloseTicket)
	ticket := int64(77)
	event.Extras.TicketID = &ticket
	event.Extras.AssetUpComment = true
	doc.Source[types.FieldITSMTicket] = float64(77)

	child := newDoc("events-20240517", "child-down", map[string]any{
		"status": string(types.StatusSuppressed),
	})
	docs := newFakeDocs(doc)
	docs.search = func(req elastic.SearchRequest) (*elastic.SearchResult, error) {
		return &elastic.SearchResult{Total: 1, Hits: []*elastic.Document{child}}, nil
	}
	session := &fakeSession{}
	p := newProcessor(docs, session, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(&fakeRecords{}, nil), event))

	assert.Equal(t, types.StatusResolving, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	assert.Empty(t, session.closed)
}

func TestResolvingSuppDoesNotCloseParentTicket(t *testing.T) {
	event, doc := resolvingEvent(types.ResolvingSupp)
	ticket := int64(42)
	event.Extras.TicketID = &ticket
	event.Extras.AssetDownComment = true
	doc.Source[types.FieldITSMTicket] = float64(42)

	docs := newFakeDocs(doc)
	session := &fakeSession{}
	p := newProcessor(docs, session, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(&fakeRecords{}, nil), event))

	assert.Equal(t, types.StatusResolved, event.Status)
	require.Len(t, session.comments, 1)
	assert.Equal(t, "Child Asset `RTR-01` which had reported similar issue is now Resolved.", session.comments[0].text)
	assert.Empty(t, session.closed)
}

func TestResolvingNewReleasesChildren(t *testing.T) {
	event, doc := resolvingEvent(types.ResolvingNew)

	suppChild := newDoc("events-20240517", "child-supp", map[string]any{
		"status": string(types.StatusSuppressed),
	})
	resolvingChild := newDoc("events-20240517", "child-resolving", map[string]any{
		"status": string(types.StatusResolving),
	})
	docs := newFakeDocs(doc, suppChild, resolvingChild)
	docs.search = func(req elastic.SearchRequest) (*elastic.SearchResult, error) {
		return &elastic.SearchResult{Total: 2, Hits: []*elastic.Document{suppChild, resolvingChild}}, nil
	}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(&fakeRecords{}, nil), event))

	// Released children do not gate the parent: it resolves in the same
	// pass, before the children pick the stamps up on their own cycles.
	assert.Equal(t, types.StatusResolved, event.Status)
	assert.Equal(t, 1, docs.searchCount)
	require.Len(t, docs.bulks, 1)
	assert.True(t, suppChild.Flag(types.FieldSuppToNew))
	assert.NotEmpty(t, suppChild.Str(types.FieldLastUpdateTS))
	assert.Equal(t, string(types.ResolvingNew), resolvingChild.Str(types.FieldResolvingAction))
}

func TestResolvingManualCascades(t *testing.T) {
	event, doc := resolvingEvent(types.ResolvingManual)
	doc.Source[types.FieldManualResolveTS] = "2024-05-17T09:30:45Z"

	child := newDoc("events-20240517", "child-supp", map[string]any{
		"status": string(types.StatusSuppressed),
	})
	docs := newFakeDocs(doc, child)
	docs.search = func(req elastic.SearchRequest) (*elastic.SearchResult, error) {
		return &elastic.SearchResult{Total: 1, Hits: []*elastic.Document{child}}, nil
	}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(&fakeRecords{}, nil), event))

	// The cascade stamps the children and resolves the parent in the
	// same pass.
	assert.Equal(t, types.StatusResolved, event.Status)
	assert.Equal(t, 1, docs.searchCount)
	assert.Equal(t, string(types.ResolvingManual), child.Str(types.FieldResolvingAction))
	assert.Equal(t, "2024-05-17T09:30:45Z", child.Str(types.FieldManualResolveTS))
}

func TestResolvingCloseFailureRetries(t *testing.T) {
	var msgs []string
	event, doc := resolvingEvent(types.ResolvingCloseTicket)
	ticket := int64(77)
	event.Extras.TicketID = &ticket
	event.Extras.AssetUpComment = true
	doc.Source[types.FieldITSMTicket] = float64(77)

	docs := newFakeDocs(doc)
	session := &fakeSession{commentErr: assertErr("followup rejected")}
	p := newProcessor(docs, session, rules.Defaults)

	require.NoError(t, p.handleResolving(context.Background(), newDC(&fakeRecords{}, &msgs), event))

	assert.Equal(t, types.StatusResolving, event.Status)
	assert.Equal(t, 1, event.RetryCount)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Ticket close failed")
	assert.Empty(t, session.closed)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
