package types

import (
	"fmt"
	"strings"
	"time"
)

const (
	// EventIndexPrefix is the common prefix of all daily event indices.
	EventIndexPrefix = "events"
	// EventIndexPattern matches every daily event index.
	EventIndexPattern = EventIndexPrefix + "-*"

	eventIDTimeLayout     = "20060102150405"
	indexDateSuffixLayout = "20060102"
)

// EventType classifies what an event says about its asset
type EventType string

const (
	EventTypeUp      EventType = "up"
	EventTypeDown    EventType = "down"
	EventTypeNeutral EventType = "neutral"
	// EventTypeMissing is assigned by the ingest pipeline when the source
	// field could not be extracted.
	EventTypeMissing EventType = "<<missing>>"
)

// EventStatus is the correlation state of an event
type EventStatus string

const (
	// Active statuses
	StatusNew            EventStatus = "new"
	StatusSuppressed     EventStatus = "suppressed"
	StatusCreatingTicket EventStatus = "creating_ticket"
	StatusAlerted        EventStatus = "alerted"

	// Transition status. Child events may not have resolved yet.
	StatusResolving EventStatus = "resolving"

	// Terminal statuses
	StatusResolved EventStatus = "resolved"
	StatusDeduped  EventStatus = "deduped"
	StatusError    EventStatus = "error"
)

// ActiveStatuses are the statuses an event can hold while its issue is live.
var ActiveStatuses = []EventStatus{
	StatusNew,
	StatusSuppressed,
	StatusCreatingTicket,
	StatusAlerted,
}

// TerminalStatuses are never left once entered.
var TerminalStatuses = []EventStatus{
	StatusResolved,
	StatusDeduped,
	StatusError,
}

// NonTerminalStatuses is the complement of TerminalStatuses.
var NonTerminalStatuses = []EventStatus{
	StatusNew,
	StatusSuppressed,
	StatusCreatingTicket,
	StatusAlerted,
	StatusResolving,
}

// IsActive reports whether s is one of the active statuses
func (s EventStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a terminal status
func (s EventStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusDeduped || s == StatusError
}

// ResolvingAction records why an event entered resolving and what must hold
// for its children before it can itself resolve.
type ResolvingAction string

const (
	// ResolvingNew: all active child events must be moved back to new.
	ResolvingNew ResolvingAction = "new"
	// ResolvingSupp: all active child events must be resolved.
	ResolvingSupp ResolvingAction = "supp"
	// ResolvingManual: all active child events must be manually resolved.
	ResolvingManual ResolvingAction = "manual"
	// ResolvingCloseTicket: children resolved and the ITSM ticket closed.
	ResolvingCloseTicket ResolvingAction = "close_ticket"
)

// Document field names used in the event store.
const (
	FieldEventDesc    = "event_desc"
	FieldEventDetails = "event_details"
	FieldEventLevel   = "event_level"
	FieldEventStatus  = "status"
	FieldEventTitle   = "event_title"
	FieldEventTS      = "event_ts"
	FieldEventType    = "event_type"

	FieldAssetUniqueID       = "asset_unique_id"
	FieldAssetType           = "asset_type"
	FieldAssetRegion         = "asset_region"
	FieldParentAssetUniqueID = "parent_asset_unique_id"
	FieldParentAssetType     = "parent_asset_type"

	FieldToolIP          = "monitor_tool_ip"
	FieldToolName        = "monitor_tool_name"
	FieldMethod          = "method"
	FieldReceivedTS      = "received_ts"
	FieldLastUpdateTS    = "last_update_ts"
	FieldManualResolveTS = "manual_resolve_ts"
	FieldErrorReason     = "error_reason"
	FieldResolvingAction = "resolving_action"
	FieldSuppToNew       = "supp_to_new"

	FieldInitialEvent      = "initial_event_id"
	FieldInitialEventIndex = "initial_event_index"
	FieldParentEvent       = "parent_event_id"
	FieldParentEventIndex  = "parent_event_index"
	FieldLinkedEvent       = "linked_event_id"
	FieldLinkedEventIndex  = "linked_event_index"
	FieldITSMTicket        = "itsm_ticket"
)

// Extras is the fixed-key side record carried on an event row. TicketID is
// nil until ticket handling has run; zero means "do not create".
type Extras struct {
	TicketID         *int64 `json:"ticket_id,omitempty"`
	AssetDownComment bool   `json:"asset_down_comment,omitempty"`
	AssetUpComment   bool   `json:"asset_up_comment,omitempty"`
}

// HasTicket reports whether a ticket id has been recorded, including the
// do-not-create sentinel 0.
func (e Extras) HasTicket() bool {
	return e.TicketID != nil
}

// TicketValue returns the recorded ticket id, or 0 when none is recorded.
func (e Extras) TicketValue() int64 {
	if e.TicketID == nil {
		return 0
	}
	return *e.TicketID
}

// LogMethod is how an inbound request reached the correlator
type LogMethod string

const (
	MethodGet  LogMethod = "get"
	MethodPost LogMethod = "post"
	MethodPut  LogMethod = "put"
	MethodSNMP LogMethod = "snmp"
)

// IsValidEventMethod reports whether m may carry an event payload
func (m LogMethod) IsValidEventMethod() bool {
	return m == MethodPost || m == MethodPut || m == MethodSNMP
}

// LogTask is the kind of work an ingress log row anchors
type LogTask string

const (
	TaskEvent   LogTask = "event"
	TaskResolve LogTask = "resolve"
)

// LogStatus is the lifecycle of an ingress log row
type LogStatus string

const (
	LogStatusNew        LogStatus = "new"
	LogStatusInProgress LogStatus = "in_progress"
	LogStatusFailed     LogStatus = "failed"
	LogStatusCompleted  LogStatus = "completed"
)

// DocID derives the stored event document id from the environment name,
// source ip and the time the event was received.
func DocID(environment, remoteIP string, received time.Time) string {
	micros := received.Nanosecond() / 1000
	return fmt.Sprintf("%s::%s::%s%06d", environment, remoteIP, received.Format(eventIDTimeLayout), micros)
}

// IndexName derives the daily event index name from the received time.
func IndexName(received time.Time) string {
	return fmt.Sprintf("%s-%s", EventIndexPrefix, received.Format(indexDateSuffixLayout))
}

// IndexDate parses the date suffix of a daily event index name.
func IndexDate(index string) (time.Time, error) {
	if !strings.HasPrefix(index, EventIndexPrefix+"-") {
		return time.Time{}, fmt.Errorf("invalid event index: %s", index)
	}
	return time.Parse(indexDateSuffixLayout, strings.TrimPrefix(index, EventIndexPrefix+"-"))
}

// SanitizeKey normalizes a payload key so it is safe as a document field
// name. Spaces, colons and dots become underscores.
func SanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '.':
			return '_'
		}
		return r
	}, key)
}

// CSVSeparators describe one packed payload field: how its sub-fields
// are delimited and how each splits into key and value.
type CSVSeparators struct {
	FieldSep string
	KVSep    string
}

// CSVFields names payload fields whose value packs multiple sub-fields
// into one string. Every ingress path runs the expansion, so a packed
// trap varbind and the same field arriving over HTTP come out the same.
var CSVFields = map[string]CSVSeparators{}

// ExpandCSVFields splits the configured packed fields of a payload into
// individual "field__subkey" entries, keeping the original untouched.
func ExpandCSVFields(payload map[string]string) {
	for field, sep := range CSVFields {
		value, ok := payload[field]
		if !ok {
			continue
		}
		for _, sub := range strings.Split(value, sep.FieldSep) {
			parts := strings.Split(sub, sep.KVSep)
			key := SanitizeKey(strings.TrimSpace(parts[0]))
			if key == "" {
				continue
			}
			payload[field+"__"+key] = strings.TrimSpace(strings.Join(parts[1:], sep.KVSep))
		}
	}
}
