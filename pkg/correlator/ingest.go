package correlator

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/dispatch"
	"github.com/Vaayujeet/encore/pkg/metrics"
	"github.com/Vaayujeet/encore/pkg/queue"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// handleIngest turns an ingress log into a stored event. The raw
// payload goes through the main ingest pipeline, which picks the tool
// specific extraction, enriches asset data and assigns the initial
// status. The resulting document is read back to build the relational
// record the correlation cycle runs on.
func (p *Processor) handleIngest(ctx context.Context, dc *dispatch.Context, l *store.IngressLog) error {
	if l.Status == types.LogStatusCompleted {
		dc.Logger.Warn().Int64("log_id", l.ID).Msg("ingress log already processed")
		return nil
	}

	toolIP, err := dc.Store.GetOrCreateToolIP(ctx, dc.DB, l.RemoteIP)
	if err != nil {
		return err
	}

	body := map[string]any{
		types.FieldEventDetails: l.Payload,
		types.FieldToolIP:       l.RemoteIP,
		types.FieldMethod:       string(l.Method),
		types.FieldReceivedTS:   docTS(l.Created),
	}
	if toolIP.ToolName != "" {
		body[types.FieldToolName] = toolIP.ToolName
	} else {
		// The pipeline falls back to the default tool extraction for
		// unregistered sources.
		body[types.FieldToolName] = nil
	}

	index := types.IndexName(l.Created)
	id := types.DocID(p.env, l.RemoteIP, l.Created)

	if err := p.docs.CreateEvent(ctx, index, id, config.MainPipeline, body); err != nil {
		dc.Logger.Error().Err(err).Str("doc_id", id).Msg("indexing event")
		return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusFailed,
			fmt.Sprintf("indexing event: %v", err))
	}

	doc, err := p.docs.GetEvent(ctx, index, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusFailed,
			"indexed document not readable")
	}

	eventTS, ok := doc.Time(types.FieldEventTS)
	if !ok {
		eventTS = l.Created
	}
	record := &store.EventRecord{
		DocID:               id,
		DocIndex:            index,
		Status:              doc.Status(),
		EventType:           doc.Type(),
		EventLevel:          doc.Int64(types.FieldEventLevel),
		EventTitle:          doc.Str(types.FieldEventTitle),
		EventTS:             eventTS,
		ToolName:            doc.Str(types.FieldToolName),
		AssetUniqueID:       doc.Str(types.FieldAssetUniqueID),
		AssetType:           doc.Str(types.FieldAssetType),
		AssetRegion:         doc.Str(types.FieldAssetRegion),
		ParentAssetUniqueID: doc.Str(types.FieldParentAssetUniqueID),
		ParentAssetType:     doc.Str(types.FieldParentAssetType),
		IngressLogID:        l.ID,
	}
	if err := dc.Store.CreateEvent(ctx, dc.DB, record); err != nil {
		return fmt.Errorf("creating event record: %w", err)
	}

	if err := dc.Store.SetIngressLogStatus(ctx, dc.DB, l.ID, types.LogStatusCompleted, ""); err != nil {
		return err
	}
	metrics.EventsIngested.WithLabelValues(string(record.Status)).Inc()
	dc.Logger.Info().Str("doc_id", id).Str("status", string(record.Status)).
		Str("event_type", string(record.EventType)).Msg("event ingested")

	if name, delay, ok := dispatch.FollowUp(record); ok {
		dc.EnqueueAfterCommit(queue.Task{Name: name, EventID: record.ID}, delay)
	}
	return nil
}
