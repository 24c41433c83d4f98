// Package assets loads the asset mapping used to enrich incoming
// events. The mapping file is a JSON array of assets; each one becomes
// a document in the asset mapping index, keyed so lookups by
// asset_unique_id are case insensitive. After a load the enrich policy
// is re-executed so the enrich index picks up the new data.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/pipeline"
	"github.com/Vaayujeet/encore/pkg/types"
)

// Asset is one row of the mapping file.
type Asset struct {
	AssetUniqueID       string `json:"asset_unique_id"`
	AssetType           string `json:"asset_type"`
	AssetRegion         string `json:"asset_region"`
	ParentAssetUniqueID string `json:"parent_asset_unique_id"`
	ParentAssetType     string `json:"parent_asset_type"`
}

// DocIndexer stores asset documents. Satisfied by *elastic.Client.
type DocIndexer interface {
	IndexDoc(ctx context.Context, index, id string, body map[string]any) error
}

// Enricher maintains the asset enrich policy. Satisfied by
// *elastic.Client.
type Enricher interface {
	EnsureEnrichPolicy(ctx context.Context, base string, want elastic.EnrichPolicy) (string, error)
	ExecuteEnrichPolicy(ctx context.Context, name string) error
}

// LoadFile reads a mapping file and loads it, optionally executing the
// enrich policy afterwards.
func LoadFile(ctx context.Context, docs DocIndexer, enricher Enricher, path string, enrich bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading asset mapping file: %w", err)
	}
	var list []Asset
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parsing asset mapping file: %w", err)
	}
	return Load(ctx, docs, enricher, list, enrich)
}

// Load indexes every asset and, when enrich is set, rebuilds the
// enrich index from the freshly loaded mapping.
func Load(ctx context.Context, docs DocIndexer, enricher Enricher, list []Asset, enrich bool) error {
	logger := log.WithComponent("assets")
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, asset := range list {
		id, doc, err := assetDoc(asset, now)
		if err != nil {
			return err
		}
		if err := docs.IndexDoc(ctx, config.AssetMappingIndex, id, doc); err != nil {
			return fmt.Errorf("indexing asset %q: %w", asset.AssetUniqueID, err)
		}
	}
	logger.Info().Int("assets", len(list)).Msg("asset mapping loaded")

	if !enrich {
		return nil
	}
	name, err := enricher.EnsureEnrichPolicy(ctx, config.AssetMappingPolicy, pipeline.AssetEnrichPolicy())
	if err != nil {
		return err
	}
	if err := enricher.ExecuteEnrichPolicy(ctx, name); err != nil {
		return err
	}
	logger.Info().Str("policy", name).Msg("enrich policy executed")
	return nil
}

// assetDoc builds the document and its ID for one asset. Asset IDs are
// stored uppercased so the enrich lookup is case insensitive; "-" in a
// parent column means no parent.
func assetDoc(a Asset, lastUpdate string) (string, map[string]any, error) {
	assetID := strings.TrimSpace(a.AssetUniqueID)
	if assetID == "" {
		return "", nil, fmt.Errorf("asset with empty %s", types.FieldAssetUniqueID)
	}
	assetType := strings.ToLower(strings.TrimSpace(a.AssetType))
	region := strings.ToLower(strings.TrimSpace(a.AssetRegion))

	doc := map[string]any{
		types.FieldAssetUniqueID:       strings.ToUpper(assetID),
		types.FieldAssetType:           assetType,
		types.FieldAssetRegion:         region,
		types.FieldParentAssetUniqueID: optionalUpper(a.ParentAssetUniqueID),
		types.FieldParentAssetType:     optionalLower(a.ParentAssetType),
		types.FieldLastUpdateTS:        lastUpdate,
	}
	id := fmt.Sprintf("%s.%s.%s", region, assetType, assetID)
	return id, doc, nil
}

func optionalUpper(s string) any {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return nil
	}
	return s
}

func optionalLower(s string) any {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return nil
	}
	return s
}
