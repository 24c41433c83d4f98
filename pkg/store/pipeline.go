package store

import "context"

// PipelineRuleType selects which extraction processor a pipeline rule
// compiles to.
type PipelineRuleType string

const (
	// RuleAssetID is a set rule whose target is always asset_unique_id.
	RuleAssetID PipelineRuleType = "asset_id"
	// RuleEventType derives event_type, either as a fixed default or by
	// lowercasing a source field and mapping its values.
	RuleEventType PipelineRuleType = "event_type"
	RuleSet       PipelineRuleType = "set"
	RuleGrok      PipelineRuleType = "grok"
	RuleRemove    PipelineRuleType = "remove"
)

// PipelineRule is one operator-defined extraction step of a monitor
// tool's ingest pipeline. Which columns are meaningful depends on
// RuleType; the rest stay at their zero values.
type PipelineRule struct {
	ID       int64
	ToolID   int64
	OrderNo  int
	RuleType PipelineRuleType

	// set / asset_id
	SetField    string
	SetValue    string
	SetCopyFrom bool
	Override    bool
	IgnoreEmpty bool

	// event_type
	TypeDefault   string
	TypeField     string
	UpValues      string
	DownValues    string
	NeutralValues string

	// grok
	GrokField       string
	GrokPatterns    []string
	GrokDefinitions map[string]string

	// remove
	RemoveField string

	IgnoreMissing bool
	IfCondition   string
	IgnoreFailure bool
}

// ListPipelineRules returns a tool's pipeline rules in execution order.
func (s *Store) ListPipelineRules(ctx context.Context, db DB, toolID int64) ([]PipelineRule, error) {
	rows, err := db.Query(ctx, `
		SELECT id, tool_id, order_no, rule_type,
		       set_field, set_value, set_copy_from, override_value, ignore_empty,
		       type_default, type_field, up_values, down_values, neutral_values,
		       grok_field, grok_patterns, grok_definitions,
		       remove_field, ignore_missing, if_condition, ignore_failure
		FROM pipeline_rules
		WHERE tool_id = $1
		ORDER BY order_no, id`, toolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []PipelineRule
	for rows.Next() {
		var r PipelineRule
		if err := rows.Scan(
			&r.ID, &r.ToolID, &r.OrderNo, &r.RuleType,
			&r.SetField, &r.SetValue, &r.SetCopyFrom, &r.Override, &r.IgnoreEmpty,
			&r.TypeDefault, &r.TypeField, &r.UpValues, &r.DownValues, &r.NeutralValues,
			&r.GrokField, &r.GrokPatterns, &r.GrokDefinitions,
			&r.RemoveField, &r.IgnoreMissing, &r.IfCondition, &r.IgnoreFailure,
		); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
