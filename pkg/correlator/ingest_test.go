package correlator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/rules"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

func ingressLog() *store.IngressLog {
	return &store.IngressLog{
		ID:       9,
		Created:  time.Date(2024, 5, 17, 9, 30, 45, 123456000, time.UTC),
		RemoteIP: "10.0.0.1",
		Method:   types.MethodPost,
		Task:     types.TaskEvent,
		Status:   types.LogStatusNew,
		Payload:  map[string]string{"host": "RTR-01", "severity": "1", "state": "down"},
	}
}

func TestIngestCreatesEventRecord(t *testing.T) {
	l := ingressLog()
	index := types.IndexName(l.Created)
	id := types.DocID("dev", l.RemoteIP, l.Created)

	// The document as the ingest pipeline leaves it.
	docs := newFakeDocs(newDoc(index, id, map[string]any{
		types.FieldEventStatus:   string(types.StatusNew),
		types.FieldEventType:     string(types.EventTypeDown),
		types.FieldEventLevel:    float64(1),
		types.FieldEventTitle:    "Link Down",
		types.FieldEventTS:       "2024-05-17T09:30:40Z",
		types.FieldToolName:      "zabbix",
		types.FieldAssetUniqueID: "RTR-01",
		types.FieldAssetType:     "router",
	}))
	records := &fakeRecords{toolName: "zabbix"}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)
	dc := newDC(records, nil)

	require.NoError(t, p.handleIngest(context.Background(), dc, l))

	require.Len(t, docs.created, 1)
	assert.Equal(t, index, docs.created[0].index)
	assert.Equal(t, id, docs.created[0].id)
	assert.Equal(t, "zabbix", docs.created[0].fields[types.FieldToolName])
	assert.Equal(t, l.Payload, docs.created[0].fields[types.FieldEventDetails])

	require.Len(t, records.createdEvents, 1)
	e := records.createdEvents[0]
	assert.Equal(t, id, e.DocID)
	assert.Equal(t, types.StatusNew, e.Status)
	assert.Equal(t, types.EventTypeDown, e.EventType)
	assert.EqualValues(t, 1, e.EventLevel)
	assert.Equal(t, "zabbix", e.ToolName)
	assert.Equal(t, "RTR-01", e.AssetUniqueID)
	assert.EqualValues(t, 9, e.IngressLogID)

	require.Len(t, records.logUpdates, 1)
	assert.Equal(t, types.LogStatusCompleted, records.logUpdates[0].status)

	deferred := dc.DeferredTasks()
	require.Len(t, deferred, 1)
	assert.Equal(t, dispatch.TaskNewDown, deferred[0].Task.Name)
	assert.Equal(t, e.ID, deferred[0].Task.EventID)
	assert.Equal(t, 10*time.Second, deferred[0].Delay)
}

func TestIngestUnregisteredSourceUsesNilTool(t *testing.T) {
	l := ingressLog()
	index := types.IndexName(l.Created)
	id := types.DocID("dev", l.RemoteIP, l.Created)
	docs := newFakeDocs(newDoc(index, id, map[string]any{
		types.FieldEventStatus: string(types.StatusError),
		types.FieldEventType:   string(types.EventTypeMissing),
	}))
	records := &fakeRecords{toolName: ""}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)
	dc := newDC(records, nil)

	require.NoError(t, p.handleIngest(context.Background(), dc, l))

	require.Len(t, docs.created, 1)
	v, present := docs.created[0].fields[types.FieldToolName]
	assert.True(t, present)
	assert.Nil(t, v)

	// An error status event gets no follow-on task.
	assert.Empty(t, dc.DeferredTasks())
}

func TestIngestIndexFailureFailsLog(t *testing.T) {
	l := ingressLog()
	docs := newFakeDocs()
	docs.createErr = errors.New("version conflict")
	records := &fakeRecords{}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleIngest(context.Background(), newDC(records, nil), l))

	require.Len(t, records.logUpdates, 1)
	assert.Equal(t, types.LogStatusFailed, records.logUpdates[0].status)
	assert.Contains(t, records.logUpdates[0].message, "version conflict")
	assert.Empty(t, records.createdEvents)
}

func TestManualResolveStampsDocument(t *testing.T) {
	l := ingressLog()
	l.Task = types.TaskResolve
	l.Payload = map[string]string{"itsm_ticket": "77"}

	target := &store.EventRecord{
		ID: 3, DocID: "dev::10.0.0.2::down", DocIndex: "events-20240517",
		Status: types.StatusAlerted, EventType: types.EventTypeDown,
	}
	docs := newFakeDocs(newDoc(target.DocIndex, target.DocID, nil))
	records := &fakeRecords{ticketEvents: []*store.EventRecord{target}}
	p := newProcessor(docs, &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleManualResolve(context.Background(), newDC(records, nil), l))

	fields := docs.lastUpdateFor(target.DocID)
	assert.Equal(t, types.ResolvingManual, fields[types.FieldResolvingAction])
	assert.Equal(t, docTS(l.Created), fields[types.FieldManualResolveTS])

	require.Len(t, records.logUpdates, 1)
	assert.Equal(t, types.LogStatusCompleted, records.logUpdates[0].status)
}

func TestManualResolveRejectsNonUniqueMatch(t *testing.T) {
	l := ingressLog()
	l.Task = types.TaskResolve
	l.Payload = map[string]string{"itsm_ticket": "77"}

	records := &fakeRecords{ticketEvents: []*store.EventRecord{
		{ID: 3}, {ID: 4},
	}}
	p := newProcessor(newFakeDocs(), &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleManualResolve(context.Background(), newDC(records, nil), l))

	require.Len(t, records.logUpdates, 1)
	assert.Equal(t, types.LogStatusFailed, records.logUpdates[0].status)
	assert.Contains(t, records.logUpdates[0].message, "found 2 alerted events")
}

func TestManualResolveRequiresTicketField(t *testing.T) {
	l := ingressLog()
	l.Task = types.TaskResolve
	l.Payload = map[string]string{}

	records := &fakeRecords{}
	p := newProcessor(newFakeDocs(), &fakeSession{}, rules.Defaults)

	require.NoError(t, p.handleManualResolve(context.Background(), newDC(records, nil), l))

	require.Len(t, records.logUpdates, 1)
	assert.Equal(t, types.LogStatusFailed, records.logUpdates[0].status)
	assert.Equal(t, "missing itsm_ticket", records.logUpdates[0].message)
}
