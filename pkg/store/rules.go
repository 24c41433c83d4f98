package store

import (
	"context"
)

// CorrelationRule decides how down events for one (tool, alert title)
// pair are handled. AlertTitle "*" is the tool's catch-all rule.
type CorrelationRule struct {
	ID                int64
	ToolName          string
	AlertTitle        string
	Enabled           bool
	LookupParent      bool
	WaitTime          int
	DoNotCreateTicket bool

	// Ticket templates rendered against the event document. Empty
	// templates fall back to the event title and description.
	TicketTitleTemplate string
	TicketDescTemplate  string

	// ITSMSeverity and ITSMAssignGroup shape the ticket this rule
	// opens. Nil severity means unclassified; nil group leaves the
	// ticket unassigned.
	ITSMSeverity    *int
	ITSMAssignGroup *int64

	LevelOverrides []LevelRule
}

// LevelRule overrides parts of its rule for one event level. Nil fields
// fall through to the rule.
type LevelRule struct {
	EventLevel        int64
	WaitTime          *int
	DoNotCreateTicket *bool
	ITSMSeverity      *int
}

// ListCorrelationRules loads every rule with its level overrides.
func (s *Store) ListCorrelationRules(ctx context.Context, db DB) ([]CorrelationRule, error) {
	rows, err := db.Query(ctx, `
		SELECT r.id, t.name, r.alert_title, r.enabled, r.lookup_parent,
			r.wait_time, r.do_not_create_ticket, r.ticket_title_template, r.ticket_desc_template,
			r.itsm_severity, r.itsm_assignment_group
		FROM correlation_rules r
		JOIN monitor_tools t ON t.id = r.tool_id
		ORDER BY t.name, r.alert_title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []CorrelationRule
	byID := map[int64]int{}
	for rows.Next() {
		var r CorrelationRule
		if err := rows.Scan(&r.ID, &r.ToolName, &r.AlertTitle, &r.Enabled,
			&r.LookupParent, &r.WaitTime, &r.DoNotCreateTicket,
			&r.TicketTitleTemplate, &r.TicketDescTemplate,
			&r.ITSMSeverity, &r.ITSMAssignGroup); err != nil {
			return nil, err
		}
		byID[r.ID] = len(rules)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	levelRows, err := db.Query(ctx, `
		SELECT rule_id, event_level, wait_time, do_not_create_ticket, itsm_severity
		FROM correlation_level_rules
		ORDER BY rule_id, event_level`)
	if err != nil {
		return nil, err
	}
	defer levelRows.Close()

	for levelRows.Next() {
		var ruleID int64
		var lr LevelRule
		if err := levelRows.Scan(&ruleID, &lr.EventLevel, &lr.WaitTime, &lr.DoNotCreateTicket, &lr.ITSMSeverity); err != nil {
			return nil, err
		}
		if i, ok := byID[ruleID]; ok {
			rules[i].LevelOverrides = append(rules[i].LevelOverrides, lr)
		}
	}
	return rules, levelRows.Err()
}
