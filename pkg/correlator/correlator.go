// Package correlator holds the event state machine: the handlers that
// move an event from new through suppression, deduplication, ticket
// creation and resolution.
//
// Handlers run under the dispatch package: the event row arrives locked
// inside a transaction, the handler mutates the row and the event store
// document, and the dispatcher persists the row and schedules the next
// recheck after commit. The document is the source of truth for
// correlation links; the row mirrors status and retry state.
package correlator

import (
	"context"
	"time"

	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/itsm"
	"github.com/Vaayujeet/encore/pkg/rules"
	"github.com/Vaayujeet/encore/pkg/types"
)

// DocStore is the event store surface the handlers use. Satisfied by
// *elastic.Client.
type DocStore interface {
	GetEvent(ctx context.Context, index, id string) (*elastic.Document, error)
	Search(ctx context.Context, req elastic.SearchRequest) (*elastic.SearchResult, error)
	SearchFirst(ctx context.Context, req elastic.SearchRequest) (*elastic.Document, error)
	UpdateEvent(ctx context.Context, index, id string, fields map[string]any) error
	BulkUpdate(ctx context.Context, ops []elastic.BulkOp) error
	CreateEvent(ctx context.Context, index, id, pipeline string, body map[string]any) error
}

// TicketSession is one authenticated ticket system session.
type TicketSession interface {
	CreateTicket(ctx context.Context, in itsm.TicketInput) (int64, error)
	AddComment(ctx context.Context, id int64, content string) error
	CloseTicket(ctx context.Context, id int64) error
	Kill(ctx context.Context) error
}

// Ticketer opens ticket system sessions.
type Ticketer interface {
	InitSession(ctx context.Context) (TicketSession, error)
}

// RuleSource resolves correlation settings. Satisfied by
// *rules.Resolver.
type RuleSource interface {
	Resolve(ctx context.Context, tool, title string, level int64) (rules.Settings, error)
}

// NewTicketer adapts the concrete client to the Ticketer interface.
func NewTicketer(c *itsm.Client) Ticketer {
	return itsmAdapter{c: c}
}

type itsmAdapter struct {
	c *itsm.Client
}

func (a itsmAdapter) InitSession(ctx context.Context) (TicketSession, error) {
	return a.c.InitSession(ctx)
}

// dedupRetryLimit: an event that has already waited this many passes is
// old enough that an "earlier duplicate" match would be stale.
const dedupRetryLimit = 3

// Processor wires the handlers to their dependencies.
type Processor struct {
	docs    DocStore
	tickets Ticketer
	rules   RuleSource
	// env names the deployment; part of every document id.
	env string
	// assignGroupID is passed to the ticket system on create when set.
	assignGroupID int64
}

// New builds a processor.
func New(docs DocStore, tickets Ticketer, ruleSource RuleSource, environment string, assignGroupID int64) *Processor {
	return &Processor{
		docs:          docs,
		tickets:       tickets,
		rules:         ruleSource,
		env:           environment,
		assignGroupID: assignGroupID,
	}
}

// Register wires every correlation task into the dispatcher.
func (p *Processor) Register(d *dispatch.Dispatcher) {
	d.Register(dispatch.Spec{
		Name:      dispatch.TaskIngestEvent,
		HandleLog: p.handleIngest,
	})
	d.Register(dispatch.Spec{
		Name:      dispatch.TaskResolve,
		HandleLog: p.handleManualResolve,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskNewUp,
		ValidStatuses: []types.EventStatus{types.StatusNew},
		ValidTypes:    []types.EventType{types.EventTypeUp},
		HandleEvent:   p.handleNewUp,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskNewDown,
		ValidStatuses: []types.EventStatus{types.StatusNew},
		ValidTypes:    []types.EventType{types.EventTypeDown},
		HandleEvent:   p.handleNewDown,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskSuppressed,
		ValidStatuses: []types.EventStatus{types.StatusSuppressed},
		ValidTypes:    []types.EventType{types.EventTypeDown},
		HandleEvent:   p.handleSuppressed,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskCreateTicket,
		ValidStatuses: []types.EventStatus{types.StatusCreatingTicket},
		ValidTypes:    []types.EventType{types.EventTypeDown},
		HandleEvent:   p.handleCreateTicket,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskAlerted,
		ValidStatuses: []types.EventStatus{types.StatusAlerted},
		ValidTypes:    []types.EventType{types.EventTypeDown},
		HandleEvent:   p.handleAlerted,
	})
	d.Register(dispatch.Spec{
		Name:          dispatch.TaskResolving,
		ValidStatuses: []types.EventStatus{types.StatusResolving},
		ValidTypes:    []types.EventType{types.EventTypeDown},
		HandleEvent:   p.handleResolving,
	})
}

// docTS renders a timestamp the way document fields store it.
func docTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// stamped adds the update timestamp to a partial document update. Every
// write the handlers make carries it.
func stamped(fields map[string]any) map[string]any {
	fields[types.FieldLastUpdateTS] = docTS(time.Now())
	return fields
}
