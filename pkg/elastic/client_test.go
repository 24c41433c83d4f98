package elastic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaayujeet/encore/pkg/config"
)

// newTestClient wires a Client against an httptest server. The product
// header is required by the client library's compatibility check.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(config.ElasticConfig{
		Hosts:   []string{srv.URL},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestGetEvent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events-20240517/_doc/dev::10.0.0.1::20240517010203000000", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"_index": "events-20240517",
			"_id":    "dev::10.0.0.1::20240517010203000000",
			"_source": map[string]any{
				"status":     "new",
				"event_type": "down",
			},
		})
	})

	doc, err := c.GetEvent(context.Background(), "events-20240517", "dev::10.0.0.1::20240517010203000000")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "events-20240517", doc.Index)
	assert.Equal(t, "new", doc.Str("status"))
	assert.Equal(t, "down", doc.Str("event_type"))
}

func TestGetEventMissing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"found": false})
	})

	doc, err := c.GetEvent(context.Background(), "events-20240517", "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func searchResponse(total int, hits ...map[string]any) map[string]any {
	return map[string]any{
		"hits": map[string]any{
			"total": map[string]any{"value": total},
			"hits":  hits,
		},
	}
}

func TestSearchShapes(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events-*/_search", r.URL.Path)
		assert.Equal(t, "event_details", r.URL.Query().Get("_source_excludes"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(searchResponse(2,
			map[string]any{"_index": "events-20240517", "_id": "a", "_source": map[string]any{"status": "new"}},
			map[string]any{"_index": "events-20240517", "_id": "b", "_source": map[string]any{"status": "new"}},
		))
	})

	result, err := c.Search(context.Background(), SearchRequest{
		Query:          Term("status", "new"),
		Size:           1000,
		Sort:           []Query{SortBy("event_ts", "desc")},
		ExcludeDetails: true,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Total)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "a", result.Hits[0].ID)

	assert.EqualValues(t, 1000, gotBody["size"])
	assert.Contains(t, gotBody, "sort")
}

func TestSearchFirstEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse(0))
	})

	doc, err := c.SearchFirst(context.Background(), SearchRequest{Query: Term("status", "new")})
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSearchOne(t *testing.T) {
	totals := []int{0, 1, 2}
	idx := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		total := totals[idx]
		idx++
		hits := make([]map[string]any, 0, total)
		for i := 0; i < total; i++ {
			hits = append(hits, map[string]any{"_index": "events-20240517", "_id": "x", "_source": map[string]any{}})
		}
		json.NewEncoder(w).Encode(searchResponse(total, hits...))
	})

	req := SearchRequest{Query: Term("status", "alerted")}

	_, err := c.SearchOne(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotFound)

	doc, err := c.SearchOne(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "x", doc.ID)

	_, err = c.SearchOne(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotUnique)
}

func TestUpdateEvent(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events-20240517/_update/a", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{"result": "updated"})
	})

	err := c.UpdateEvent(context.Background(), "events-20240517", "a", map[string]any{"status": "resolved"})
	require.NoError(t, err)

	doc := gotBody["doc"].(map[string]any)
	assert.Equal(t, "resolved", doc["status"])
}

func TestBulkUpdateItemFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_bulk", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": true,
			"items": []map[string]any{
				{"update": map[string]any{"status": 200}},
				{"update": map[string]any{"status": 404, "error": map[string]any{"reason": "document missing"}}},
			},
		})
	})

	err := c.BulkUpdate(context.Background(), []BulkOp{
		{Index: "events-20240517", ID: "a", Fields: map[string]any{"status": "resolved"}},
		{Index: "events-20240517", ID: "b", Fields: map[string]any{"status": "resolved"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document missing")
}

func TestCreateEventUsesPipeline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events-20240517/_create/a", r.URL.Path)
		assert.Equal(t, "event-pipeline", r.URL.Query().Get("pipeline"))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"result": "created"})
	})

	err := c.CreateEvent(context.Background(), "events-20240517", "a", "event-pipeline",
		map[string]any{"event_details": map[string]any{"k": "v"}})
	require.NoError(t, err)
}

func TestIndexHasNonTerminal(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(searchResponse(3,
			map[string]any{"_index": "events-20230101", "_id": "a", "_source": map[string]any{}},
		))
	})

	active, err := c.IndexHasNonTerminal(context.Background(), "events-20230101")
	require.NoError(t, err)
	assert.True(t, active)

	query := gotBody["query"].(map[string]any)["bool"].(map[string]any)
	assert.Len(t, query["should"], 5)
	assert.EqualValues(t, 1, query["minimum_should_match"])
}
