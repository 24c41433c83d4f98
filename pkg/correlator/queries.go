package correlator

import (
	"context"
	"time"

	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// matchingDownQuery matches active, unlinked down events reporting the
// same issue: same tool, same title, same asset (case insensitive), at
// or before the given time.
func matchingDownQuery(e *store.EventRecord, lte time.Time) elastic.Query {
	return elastic.NewBool().
		Must(
			elastic.Term(types.FieldToolName, e.ToolName),
			elastic.Term(types.FieldEventTitle, e.EventTitle),
			elastic.TermCI(types.FieldAssetUniqueID, e.AssetUniqueID),
			elastic.Term(types.FieldEventType, string(types.EventTypeDown)),
			elastic.RangeLTE(types.FieldEventTS, docTS(lte)),
		).
		MustNot(elastic.Exists(types.FieldLinkedEvent)).
		Should(elastic.StatusShould(types.ActiveStatuses)...).
		Build()
}

// latestMatchingDowns finds all matching downs, newest first. Up events
// link against the newest one.
func (p *Processor) latestMatchingDowns(ctx context.Context, e *store.EventRecord) (*elastic.SearchResult, error) {
	return p.docs.Search(ctx, elastic.SearchRequest{
		Query:          matchingDownQuery(e, e.EventTS),
		Sort:           []elastic.Query{elastic.SortBy(types.FieldEventTS, "desc")},
		Size:           1000,
		ExcludeDetails: true,
	})
}

// earliestMatchingDown finds the oldest matching down, used to detect
// that this event duplicates an earlier one.
func (p *Processor) earliestMatchingDown(ctx context.Context, e *store.EventRecord) (*elastic.Document, error) {
	return p.docs.SearchFirst(ctx, elastic.SearchRequest{
		Query:          matchingDownQuery(e, e.EventTS),
		Sort:           []elastic.Query{elastic.SortBy(types.FieldEventTS, "asc")},
		ExcludeDetails: true,
	})
}

// earliestParentDown finds the oldest active down reporting the same
// issue (same tool, same title) against the event's parent asset.
func (p *Processor) earliestParentDown(ctx context.Context, e *store.EventRecord) (*elastic.Document, error) {
	query := elastic.NewBool().
		Must(
			elastic.Term(types.FieldEventType, string(types.EventTypeDown)),
			elastic.Term(types.FieldToolName, e.ToolName),
			elastic.Term(types.FieldEventTitle, e.EventTitle),
			elastic.TermCI(types.FieldAssetUniqueID, e.ParentAssetUniqueID),
		).
		MustNot(elastic.Exists(types.FieldLinkedEvent)).
		Should(elastic.StatusShould(types.ActiveStatuses)...).
		Build()
	return p.docs.SearchFirst(ctx, elastic.SearchRequest{
		Query:          query,
		Sort:           []elastic.Query{elastic.SortBy(types.FieldEventTS, "asc")},
		ExcludeDetails: true,
	})
}

// firstActiveChild finds one down event still suppressed or resolving
// under the given parent. A parent may not resolve while any exists.
func (p *Processor) firstActiveChild(ctx context.Context, parentDocID string) (*elastic.Document, error) {
	query := elastic.NewBool().
		Must(
			elastic.Term(types.FieldEventType, string(types.EventTypeDown)),
			elastic.Term(types.FieldParentEvent, parentDocID),
		).
		Should(elastic.StatusShould([]types.EventStatus{
			types.StatusSuppressed,
			types.StatusResolving,
		})...).
		Build()
	return p.docs.SearchFirst(ctx, elastic.SearchRequest{
		Query:          query,
		Size:           1,
		ExcludeDetails: true,
	})
}

// activeChildren lists every down event still suppressed or resolving
// under the given parent.
func (p *Processor) activeChildren(ctx context.Context, parentDocID string) ([]*elastic.Document, error) {
	query := elastic.NewBool().
		Must(
			elastic.Term(types.FieldEventType, string(types.EventTypeDown)),
			elastic.Term(types.FieldParentEvent, parentDocID),
		).
		Should(elastic.StatusShould([]types.EventStatus{
			types.StatusSuppressed,
			types.StatusResolving,
		})...).
		Build()
	result, err := p.docs.Search(ctx, elastic.SearchRequest{
		Query:          query,
		Size:           1000,
		ExcludeDetails: true,
	})
	if err != nil {
		return nil, err
	}
	return result.Hits, nil
}
