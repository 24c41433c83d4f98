// Package itsm is the ticket system client. The API is session based:
// every call after InitSession carries the session token, and sessions
// are killed as soon as the work is done.
package itsm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Vaayujeet/encore/pkg/config"
)

// Ticket lifecycle states used by the correlator.
const (
	TicketStatusNew    = 1
	TicketStatusClosed = 5
)

// requestTypeMonitoring marks tickets as raised by monitoring rather
// than by a person.
const requestTypeMonitoring = 8

// Error is a non-2xx answer from the ticket system.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("itsm: status %d: %s", e.StatusCode, e.Message)
}

// PriorityForSeverity maps a rule's ITSM severity to a ticket priority.
// Severities run 1 (highest) to 4, ticket priorities the other way
// around. Anything outside that range counts as severity 4.
func PriorityForSeverity(severity int) int {
	switch severity {
	case 1:
		return 4
	case 2:
		return 3
	case 3:
		return 2
	}
	return 1
}

// Client talks to the ticket system REST API.
type Client struct {
	base      string
	appToken  string
	userToken string
	http      *http.Client
}

// New builds a client from configuration.
func New(cfg config.ITSMConfig) *Client {
	return &Client{
		base:      cfg.BaseURL,
		appToken:  cfg.AppToken,
		userToken: cfg.UserToken,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// Session is one authenticated session.
type Session struct {
	c     *Client
	token string
}

// InitSession authenticates and returns a session.
func (c *Client) InitSession(ctx context.Context) (*Session, error) {
	headers := map[string]string{
		"App-Token":     c.appToken,
		"Authorization": "user_token " + c.userToken,
	}
	body, err := c.do(ctx, http.MethodGet, "/initSession", headers, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var out struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}
	return &Session{c: c, token: out.SessionToken}, nil
}

// Kill ends the session. Call it as soon as the ticket work is done;
// the ticket system caps concurrent sessions per user.
func (s *Session) Kill(ctx context.Context) error {
	_, err := s.c.do(ctx, http.MethodGet, "/killSession", s.headers(), nil, http.StatusOK)
	return err
}

// TicketInput is what the correlator sets on a new ticket. Extra carries
// deployment specific assignment fields (group, custom fields) straight
// into the create payload.
type TicketInput struct {
	Title    string
	Content  string
	Priority int
	Extra    map[string]any
}

// CreateTicket opens a ticket and returns its id.
func (s *Session) CreateTicket(ctx context.Context, in TicketInput) (int64, error) {
	input := map[string]any{
		"name":            in.Title,
		"content":         in.Content,
		"status":          TicketStatusNew,
		"priority":        in.Priority,
		"requesttypes_id": requestTypeMonitoring,
	}
	for k, v := range in.Extra {
		input[k] = v
	}

	body, err := s.c.do(ctx, http.MethodPost, "/Ticket", s.headers(),
		map[string]any{"input": input}, http.StatusCreated)
	if err != nil {
		return 0, err
	}

	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decoding create response: %w", err)
	}
	return out.ID, nil
}

// GetTicket reads one ticket.
func (s *Session) GetTicket(ctx context.Context, id int64) (map[string]any, error) {
	body, err := s.c.do(ctx, http.MethodGet, fmt.Sprintf("/Ticket/%d", id), s.headers(), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding ticket: %w", err)
	}
	return out, nil
}

// UpdateTicket merges fields into one ticket.
func (s *Session) UpdateTicket(ctx context.Context, id int64, fields map[string]any) error {
	_, err := s.c.do(ctx, http.MethodPut, fmt.Sprintf("/Ticket/%d", id), s.headers(),
		map[string]any{"input": fields}, http.StatusOK)
	return err
}

// AddComment posts a followup on a ticket.
func (s *Session) AddComment(ctx context.Context, id int64, content string) error {
	input := map[string]any{
		"items_id": id,
		"itemtype": "Ticket",
		"content":  content,
	}
	_, err := s.c.do(ctx, http.MethodPost, fmt.Sprintf("/Ticket/%d/ITILFollowup", id), s.headers(),
		map[string]any{"input": input}, http.StatusCreated)
	return err
}

// CloseTicket moves a ticket to the closed state.
func (s *Session) CloseTicket(ctx context.Context, id int64) error {
	return s.UpdateTicket(ctx, id, map[string]any{"status": TicketStatusClosed})
}

func (s *Session) headers() map[string]string {
	return map[string]string{
		"App-Token":     s.c.appToken,
		"Session-Token": s.token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, payload any, wantStatus int) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != wantStatus {
		return nil, &Error{StatusCode: res.StatusCode, Message: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
