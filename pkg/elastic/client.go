package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/types"
)

var (
	// ErrNotFound is returned by SearchOne when no document matches.
	ErrNotFound = errors.New("no matching document")
	// ErrNotUnique is returned by SearchOne when more than one document
	// matches.
	ErrNotUnique = errors.New("more than one matching document")
)

// Client wraps the event store connection.
type Client struct {
	es      *elasticsearch.Client
	timeout time.Duration
}

// New connects to the event store. Authentication and fingerprint pinning
// are optional so local single-node setups work without TLS.
func New(cfg config.ElasticConfig) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Hosts,
	}
	if cfg.UseAuth || cfg.UseCert {
		esCfg.Username = cfg.User
		esCfg.Password = cfg.Password
	}
	if cfg.UseCert {
		esCfg.CertificateFingerprint = cfg.CertFingerprint
	}
	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{es: es, timeout: cfg.Timeout}, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// GetEvent reads one document by identity. A missing document returns
// (nil, nil).
func (c *Client) GetEvent(ctx context.Context, index, id string) (*Document, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, respError(res)
	}

	var out struct {
		Index  string         `json:"_index"`
		ID     string         `json:"_id"`
		Source map[string]any `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding get response: %w", err)
	}
	return &Document{Index: out.Index, ID: out.ID, Source: out.Source}, nil
}

// SearchRequest describes one search against the event indices.
type SearchRequest struct {
	// Index to search; defaults to all daily event indices.
	Index string
	Query Query
	Sort  []Query
	Size  int
	// ExcludeDetails drops the raw payload field from returned sources.
	// Correlation never needs it and it can be large.
	ExcludeDetails bool
}

// SearchResult is the decoded hit set with the total match count.
type SearchResult struct {
	Total int64
	Hits  []*Document
}

// Search runs one search and returns all hits.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := map[string]any{"query": req.Query}
	if len(req.Sort) > 0 {
		body["sort"] = req.Sort
	}
	if req.Size > 0 {
		body["size"] = req.Size
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	index := req.Index
	if index == "" {
		index = types.EventIndexPattern
	}
	opts := []func(*esapi.SearchRequest){
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithTrackTotalHits(true),
	}
	if req.ExcludeDetails {
		opts = append(opts, c.es.Search.WithSourceExcludes(types.FieldEventDetails))
	}

	res, err := c.es.Search(opts...)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, respError(res)
	}

	var out struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Index  string         `json:"_index"`
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	result := &SearchResult{Total: out.Hits.Total.Value}
	for _, h := range out.Hits.Hits {
		result.Hits = append(result.Hits, &Document{Index: h.Index, ID: h.ID, Source: h.Source})
	}
	return result, nil
}

// SearchFirst returns the first hit, or nil when nothing matches.
func (c *Client) SearchFirst(ctx context.Context, req SearchRequest) (*Document, error) {
	result, err := c.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(result.Hits) == 0 {
		return nil, nil
	}
	return result.Hits[0], nil
}

// SearchOne requires exactly one hit. Zero hits return ErrNotFound, more
// than one return ErrNotUnique.
func (c *Client) SearchOne(ctx context.Context, req SearchRequest) (*Document, error) {
	result, err := c.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	switch result.Total {
	case 0:
		return nil, ErrNotFound
	case 1:
		return result.Hits[0], nil
	default:
		return nil, ErrNotUnique
	}
}

// UpdateEvent merges fields into one document.
func (c *Client) UpdateEvent(ctx context.Context, index, id string, fields map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]any{"doc": fields}); err != nil {
		return err
	}
	res, err := c.es.Update(index, id, &buf, c.es.Update.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// BulkOp is one partial update in a bulk request.
type BulkOp struct {
	Index  string
	ID     string
	Fields map[string]any
}

// BulkUpdate applies partial updates in one round trip. Any item failure
// surfaces as an error with the first failing reason.
func (c *Client) BulkUpdate(ctx context.Context, ops []BulkOp) error {
	if len(ops) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		if err := enc.Encode(map[string]any{"update": map[string]any{
			"_index": op.Index,
			"_id":    op.ID,
		}}); err != nil {
			return err
		}
		if err := enc.Encode(map[string]any{"doc": op.Fields}); err != nil {
			return err
		}
	}

	res, err := c.es.Bulk(&buf, c.es.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if out.Errors {
		for _, item := range out.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk update failed: %s", op.Error.Reason)
				}
			}
		}
		return errors.New("bulk update failed")
	}
	return nil
}

// CreateEvent stores a new document through an ingest pipeline. op_type
// create rejects duplicate ids instead of silently overwriting.
func (c *Client) CreateEvent(ctx context.Context, index, id, pipeline string, body map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	res, err := c.es.Index(index, &buf,
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(id),
		c.es.Index.WithOpType("create"),
		c.es.Index.WithPipeline(pipeline),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// IndexDoc stores a plain document, overwriting any existing one. Used
// for the asset mapping index, not for events.
func (c *Client) IndexDoc(ctx context.Context, index, id string, body map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	res, err := c.es.Index(index, &buf,
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(id),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func respError(res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("elasticsearch: %s: %s", res.Status(), bytes.TrimSpace(body))
}
