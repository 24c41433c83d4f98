// Package rules resolves the correlation settings that apply to a down
// event. Rules are keyed by (monitor tool, alert title) with "*" as the
// tool's catch-all title, and may be refined per event level.
package rules

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Vaayujeet/encore/pkg/store"
)

// Settings are the resolved knobs for one event.
type Settings struct {
	// LookupParent enables the parent asset search during correlation.
	LookupParent bool
	// WaitTime is how long a new down event may wait for a parent down
	// before it stops being suppressible.
	WaitTime time.Duration
	// DoNotCreateTicket keeps the event from opening a ticket.
	DoNotCreateTicket bool
	// TicketTitleTemplate and TicketDescTemplate are rendered against
	// the event document when a ticket is opened. Empty falls back to
	// the event title and description.
	TicketTitleTemplate string
	TicketDescTemplate  string
	// ITSMSeverity drives the ticket priority. Zero means the rule
	// left it unclassified.
	ITSMSeverity int
	// ITSMAssignGroup is the ticket system group the ticket goes to.
	// Zero leaves the ticket unassigned.
	ITSMAssignGroup int64
}

// Defaults apply when no rule matches. Conservative on purpose: without
// an explicit rule nothing opens tickets on its own.
var Defaults = Settings{
	LookupParent:      true,
	WaitTime:          150 * time.Second,
	DoNotCreateTicket: true,
}

// ListFunc loads all rules. Wired to store.ListCorrelationRules in
// production.
type ListFunc func(ctx context.Context) ([]store.CorrelationRule, error)

const cacheKey = "correlation-rules"

// Resolver answers rule lookups from a short-lived cache, so rule edits
// take effect within a minute without a per-event database query.
type Resolver struct {
	list  ListFunc
	cache *cache.Cache
}

// New builds a resolver over a rule source.
func New(list ListFunc) *Resolver {
	return &Resolver{
		list:  list,
		cache: cache.New(time.Minute, 5*time.Minute),
	}
}

// Resolve returns the settings for one event. Lookup order: exact
// (tool, title), then the tool's "*" rule, then Defaults. Disabled
// rules are invisible.
func (r *Resolver) Resolve(ctx context.Context, tool, title string, level int64) (Settings, error) {
	rules, err := r.rules(ctx)
	if err != nil {
		return Settings{}, err
	}

	rule := findRule(rules, tool, title)
	if rule == nil {
		rule = findRule(rules, tool, "*")
	}
	if rule == nil {
		return Defaults, nil
	}

	s := Settings{
		LookupParent:        rule.LookupParent,
		WaitTime:            time.Duration(rule.WaitTime) * time.Second,
		DoNotCreateTicket:   rule.DoNotCreateTicket,
		TicketTitleTemplate: rule.TicketTitleTemplate,
		TicketDescTemplate:  rule.TicketDescTemplate,
	}
	if rule.ITSMSeverity != nil {
		s.ITSMSeverity = *rule.ITSMSeverity
	}
	if rule.ITSMAssignGroup != nil {
		s.ITSMAssignGroup = *rule.ITSMAssignGroup
	}
	for _, lr := range rule.LevelOverrides {
		if lr.EventLevel != level {
			continue
		}
		if lr.WaitTime != nil {
			s.WaitTime = time.Duration(*lr.WaitTime) * time.Second
		}
		if lr.DoNotCreateTicket != nil {
			s.DoNotCreateTicket = *lr.DoNotCreateTicket
		}
		if lr.ITSMSeverity != nil {
			s.ITSMSeverity = *lr.ITSMSeverity
		}
	}
	return s, nil
}

// Invalidate drops the cached rule set. Used by the rule admin surface.
func (r *Resolver) Invalidate() {
	r.cache.Delete(cacheKey)
}

func (r *Resolver) rules(ctx context.Context) ([]store.CorrelationRule, error) {
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.([]store.CorrelationRule), nil
	}
	rules, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Set(cacheKey, rules, cache.DefaultExpiration)
	return rules, nil
}

func findRule(rules []store.CorrelationRule, tool, title string) *store.CorrelationRule {
	for i := range rules {
		r := &rules[i]
		if r.Enabled && r.ToolName == tool && r.AlertTitle == title {
			return r
		}
	}
	return nil
}
