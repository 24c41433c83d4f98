/*
Package types defines the core data structures shared across the correlator.

It holds the event vocabulary (event types, statuses, resolving actions),
the field names used in event store documents, the extras record carried on
relational event rows, and the derivation rules for document ids and index
names.

# Event Lifecycle

Events move through a fixed status state machine:

	new → suppressed / creating_ticket / deduped / error
	suppressed → new / resolving
	creating_ticket → alerted / resolving
	alerted → resolving
	resolving → resolved

resolved, deduped and error are terminal: no handler mutates a terminal
event again.

# Identity

A stored event is identified by (index, id):

	id    = "{environment}::{remote_ip}::{received_ts YYYYMMDDHHMMSSffffff}"
	index = "events-{received_ts YYYYMMDD}"

The timestamp component carries microsecond precision so two events from
the same source in the same second still get distinct ids.
*/
package types
