package itsm

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

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ITSMConfig{
		BaseURL:   srv.URL,
		AppToken:  "app-token",
		UserToken: "user-token",
		Timeout:   5 * time.Second,
	})
}

func TestInitSession(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/initSession", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "app-token", r.Header.Get("App-Token"))
		assert.Equal(t, "user_token user-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"session_token": "sess-1"})
	})

	s, err := c.InitSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", s.token)
}

func TestInitSessionRejected(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`["ERROR_WRONG_APP_TOKEN"]`))
	})

	_, err := c.InitSession(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "ERROR_WRONG_APP_TOKEN")
}

func TestCreateTicket(t *testing.T) {
	var gotInput map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/initSession" {
			json.NewEncoder(w).Encode(map[string]string{"session_token": "sess-1"})
			return
		}
		assert.Equal(t, "/Ticket", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "sess-1", r.Header.Get("Session-Token"))

		var body map[string]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotInput = body["input"]

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": 77})
	})

	s, err := c.InitSession(context.Background())
	require.NoError(t, err)

	id, err := s.CreateTicket(context.Background(), TicketInput{
		Title:    "Router down",
		Content:  "RTR-01 stopped responding",
		Priority: PriorityForSeverity(1),
		Extra:    map[string]any{"_groups_id_assign": 12},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 77, id)

	assert.Equal(t, "Router down", gotInput["name"])
	assert.EqualValues(t, 1, gotInput["status"])
	assert.EqualValues(t, 4, gotInput["priority"])
	assert.EqualValues(t, 8, gotInput["requesttypes_id"])
	assert.EqualValues(t, 12, gotInput["_groups_id_assign"])
}

func TestAddCommentAndClose(t *testing.T) {
	var paths []string
	var closeInput map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch {
		case r.URL.Path == "/initSession":
			json.NewEncoder(w).Encode(map[string]string{"session_token": "sess-1"})
		case r.URL.Path == "/Ticket/77/ITILFollowup":
			var body map[string]map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 77, body["input"]["items_id"])
			assert.Equal(t, "Ticket", body["input"]["itemtype"])
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": 5})
		case r.URL.Path == "/Ticket/77" && r.Method == http.MethodPut:
			var body map[string]map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			closeInput = body["input"]
			json.NewEncoder(w).Encode(map[string]any{})
		case r.URL.Path == "/killSession":
			w.Write([]byte("{}"))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	s, err := c.InitSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.AddComment(context.Background(), 77, "Child asset reported similar issue"))
	require.NoError(t, s.CloseTicket(context.Background(), 77))
	require.NoError(t, s.Kill(context.Background()))

	assert.Equal(t, []string{
		"GET /initSession",
		"POST /Ticket/77/ITILFollowup",
		"PUT /Ticket/77",
		"GET /killSession",
	}, paths)
	assert.EqualValues(t, TicketStatusClosed, closeInput["status"])
}

func TestPriorityForSeverity(t *testing.T) {
	assert.Equal(t, 4, PriorityForSeverity(1))
	assert.Equal(t, 3, PriorityForSeverity(2))
	assert.Equal(t, 2, PriorityForSeverity(3))
	assert.Equal(t, 1, PriorityForSeverity(4))
	assert.Equal(t, 1, PriorityForSeverity(0))
	assert.Equal(t, 1, PriorityForSeverity(9))
}
