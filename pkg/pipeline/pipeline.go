// Package pipeline compiles monitor tool extraction rules into
// Elasticsearch ingest pipeline definitions and owns the cluster
// artifacts around them: the main event pipeline, the per-tool and
// default tool pipelines, the asset enrich policy and the events
// index template.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/store"
	"github.com/Vaayujeet/encore/pkg/types"
)

// Processor is one ingest pipeline processor definition, keyed by
// processor type.
type Processor map[string]any

// ToolPipelineName derives the ingest pipeline id for a monitor tool.
func ToolPipelineName(tool string) string {
	return strings.ReplaceAll(strings.ToLower(tool), " ", "-") + config.ToolPipelineSuffix
}

// Body wraps processors into a put-pipeline request body.
func Body(processors []Processor) map[string]any {
	return map[string]any{"processors": processors}
}

// ToolPipeline compiles a tool's extraction rules, in order, into
// processors. A tool without an event_type rule gets the default
// extraction from event_details.
func ToolPipeline(rules []store.PipelineRule) []Processor {
	var processors []Processor
	haveTypeRule := false

	for _, r := range rules {
		switch r.RuleType {
		case store.RuleSet, store.RuleAssetID:
			processors = append(processors, setRule(r))
		case store.RuleGrok:
			processors = append(processors, grokRule(r))
		case store.RuleRemove:
			processors = append(processors, removeRule(r))
		case store.RuleEventType:
			haveTypeRule = true
			processors = append(processors, eventTypeRules(r)...)
		}
	}
	if !haveTypeRule {
		processors = append(processors, defaultEventTypeProcessor())
	}
	return processors
}

func setRule(r store.PipelineRule) Processor {
	field := r.SetField
	if r.RuleType == store.RuleAssetID {
		field = types.FieldAssetUniqueID
	}
	def := map[string]any{
		"field":              field,
		"override":           r.Override,
		"ignore_empty_value": r.IgnoreEmpty,
		"ignore_failure":     r.IgnoreFailure,
		"tag":                ruleTag(r, field),
	}
	if r.SetCopyFrom {
		def["copy_from"] = r.SetValue
	} else {
		def["value"] = r.SetValue
	}
	if cond := strings.TrimSpace(r.IfCondition); cond != "" {
		def["if"] = cond
	}
	return Processor{"set": def}
}

func grokRule(r store.PipelineRule) Processor {
	def := map[string]any{
		"field":               r.GrokField,
		"patterns":            r.GrokPatterns,
		"pattern_definitions": r.GrokDefinitions,
		"ignore_missing":      r.IgnoreMissing,
		"ignore_failure":      r.IgnoreFailure,
		"tag":                 ruleTag(r, r.GrokField),
	}
	if cond := strings.TrimSpace(r.IfCondition); cond != "" {
		def["if"] = cond
	}
	return Processor{"grok": def}
}

func removeRule(r store.PipelineRule) Processor {
	def := map[string]any{
		"field":          r.RemoveField,
		"ignore_missing": r.IgnoreMissing,
		"ignore_failure": r.IgnoreFailure,
		"tag":            ruleTag(r, r.RemoveField),
	}
	if cond := strings.TrimSpace(r.IfCondition); cond != "" {
		def["if"] = cond
	}
	return Processor{"remove": def}
}

// eventTypeRules compiles an event_type rule. A fixed default becomes a
// single set processor. A field-based rule lowercases the source field,
// falling back to the missing marker, then maps each configured value
// list onto its event type.
func eventTypeRules(r store.PipelineRule) []Processor {
	tag := ruleTag(r, types.FieldEventType)
	if r.TypeDefault != "" {
		return []Processor{{"set": map[string]any{
			"field": types.FieldEventType,
			"value": r.TypeDefault,
			"tag":   tag,
		}}}
	}

	processors := []Processor{lowercaseTypeProcessor(r.TypeField, tag)}
	for _, m := range []struct {
		eventType types.EventType
		values    string
	}{
		{types.EventTypeDown, r.DownValues},
		{types.EventTypeUp, r.UpValues},
		{types.EventTypeNeutral, r.NeutralValues},
	} {
		values := splitValues(m.values)
		if len(values) == 0 {
			continue
		}
		conds := make([]string, len(values))
		for i, v := range values {
			conds[i] = fmt.Sprintf("ctx['%s'] == '%s'", types.FieldEventType, strings.ToLower(v))
		}
		processors = append(processors, Processor{"set": map[string]any{
			"field": types.FieldEventType,
			"value": string(m.eventType),
			"if":    strings.Join(conds, " || "),
			"tag":   fmt.Sprintf("%s-%s", tag, m.eventType),
		}})
	}
	return processors
}

// defaultEventTypeProcessor extracts event_type straight from the raw
// payload when no event_type rule is configured.
func defaultEventTypeProcessor() Processor {
	return lowercaseTypeProcessor(
		fmt.Sprintf("%s.%s", types.FieldEventDetails, types.FieldEventType),
		fmt.Sprintf("set-%s", types.FieldEventType),
	)
}

func lowercaseTypeProcessor(sourceField, tag string) Processor {
	return Processor{"lowercase": map[string]any{
		"field":        sourceField,
		"target_field": types.FieldEventType,
		"tag":          tag + "-lowercase",
		"on_failure": []Processor{{"set": map[string]any{
			"field": types.FieldEventType,
			"value": string(types.EventTypeMissing),
			"tag":   fmt.Sprintf("%s-as-missing", tag),
		}}},
	}}
}

func ruleTag(r store.PipelineRule, field string) string {
	return fmt.Sprintf("%d-%s-%s", r.OrderNo, r.RuleType, field)
}

func splitValues(csv string) []string {
	var out []string
	for _, v := range strings.Split(csv, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// DefaultToolPipeline extracts the well-known fields from event_details
// for sources that carry no tool-specific rules.
func DefaultToolPipeline() []Processor {
	processors := []Processor{{"set": map[string]any{
		"field": types.FieldToolName,
		"value": config.DefaultToolName,
		"if":    fmt.Sprintf("ctx['%s'] == null", types.FieldToolName),
		"tag":   fmt.Sprintf("set-%s", types.FieldToolName),
	}}}

	for _, field := range []string{
		types.FieldAssetUniqueID,
		types.FieldEventDesc,
		types.FieldEventLevel,
		types.FieldEventTitle,
		types.FieldEventTS,
	} {
		processors = append(processors, Processor{"set": map[string]any{
			"field":              field,
			"copy_from":          fmt.Sprintf("%s.%s", types.FieldEventDetails, field),
			"ignore_empty_value": true,
			"if":                 fmt.Sprintf("ctx['%s'].containsKey('%s')", types.FieldEventDetails, field),
			"tag":                fmt.Sprintf("set-%s", field),
		}})
	}
	return append(processors, defaultEventTypeProcessor())
}

// MainPipeline routes each document through its tool pipeline, enriches
// it with asset mapping data and assigns the initial status. Documents
// missing a required field are marked with status error and the joined
// reasons.
func MainPipeline(tools []store.MonitorTool, enrichPolicyName string) []Processor {
	var processors []Processor
	for _, tool := range tools {
		name := ToolPipelineName(tool.Name)
		processors = append(processors, Processor{"pipeline": map[string]any{
			"name": name,
			"if":   fmt.Sprintf("ctx.%s == '%s'", types.FieldToolName, tool.Name),
			"tag":  "pipeline-" + name,
		}})
	}
	processors = append(processors, Processor{"pipeline": map[string]any{
		"name": config.DefaultToolPipeline(),
		"if":   fmt.Sprintf("ctx['%s'] == null", types.FieldToolName),
		"tag":  "pipeline-" + config.DefaultToolPipeline(),
	}})

	processors = append(processors,
		Processor{"enrich": map[string]any{
			"field":        types.FieldAssetUniqueID,
			"policy_name":  enrichPolicyName,
			"target_field": "asset",
			"if": fmt.Sprintf("ctx.containsKey('%s') && ctx['%s'] != null",
				types.FieldAssetUniqueID, types.FieldAssetUniqueID),
			"tag": "enrich-asset",
		}},
		assetCopy(types.FieldAssetType, true),
		assetCopy(types.FieldAssetRegion, true),
		assetCopy(types.FieldParentAssetUniqueID, false),
		assetCopy(types.FieldParentAssetType, false),
		Processor{"remove": map[string]any{
			"field": "asset", "ignore_missing": true, "tag": "remove-asset",
		}},
		Processor{"set": map[string]any{
			"field":     types.FieldInitialEvent,
			"copy_from": "_id",
			"tag":       fmt.Sprintf("set-%s-from-id", types.FieldInitialEvent),
		}},
		Processor{"set": map[string]any{
			"field":     types.FieldInitialEventIndex,
			"copy_from": "_index",
			"tag":       fmt.Sprintf("set-%s-from-index", types.FieldInitialEventIndex),
		}},
		Processor{"set": map[string]any{
			"field": types.FieldEventType,
			"value": string(types.EventTypeMissing),
			"if":    fmt.Sprintf("!ctx.containsKey('%s')", types.FieldEventType),
			"tag":   fmt.Sprintf("set-%s-as-missing", types.FieldEventType),
		}},
		Processor{"set": map[string]any{
			"field": types.FieldEventStatus,
			"value": string(types.StatusNew),
			"tag":   fmt.Sprintf("set-%s-as-%s", types.FieldEventStatus, types.StatusNew),
		}},
		missingFieldCheck(types.FieldAssetUniqueID),
		missingFieldCheck(types.FieldEventTitle),
		Processor{"append": map[string]any{
			"field": types.FieldErrorReason,
			"value": fmt.Sprintf("%s is missing/invalid.", types.FieldEventType),
			"if": fmt.Sprintf("ctx['%s'] != '%s' && ctx['%s'] != '%s' && ctx['%s'] != '%s'",
				types.FieldEventType, types.EventTypeDown,
				types.FieldEventType, types.EventTypeUp,
				types.FieldEventType, types.EventTypeNeutral),
			"tag": fmt.Sprintf("append-%s-%s", types.FieldErrorReason, types.FieldEventType),
		}},
		Processor{"join": map[string]any{
			"field":     types.FieldErrorReason,
			"separator": " ",
			"if":        fmt.Sprintf("ctx.containsKey('%s')", types.FieldErrorReason),
			"tag":       fmt.Sprintf("join-%s", types.FieldErrorReason),
		}},
		Processor{"set": map[string]any{
			"field": types.FieldEventStatus,
			"value": string(types.StatusError),
			"if":    fmt.Sprintf("ctx.containsKey('%s')", types.FieldErrorReason),
			"tag":   fmt.Sprintf("set-%s-as-%s", types.FieldEventStatus, types.StatusError),
		}},
		Processor{"set": map[string]any{
			"field":     types.FieldEventTS,
			"copy_from": types.FieldReceivedTS,
			"if":        fmt.Sprintf("!ctx.containsKey('%s')", types.FieldEventTS),
			"tag":       fmt.Sprintf("set-%s-using-%s", types.FieldEventTS, types.FieldReceivedTS),
		}},
		Processor{"set": map[string]any{
			"field":     types.FieldLastUpdateTS,
			"copy_from": "_ingest.timestamp",
		}},
	)
	return processors
}

func assetCopy(field string, keepExisting bool) Processor {
	def := map[string]any{
		"field":     field,
		"copy_from": "asset." + field,
		"if":        "ctx.containsKey('asset')",
		"tag":       fmt.Sprintf("set-%s-from-asset", field),
	}
	if keepExisting {
		def["override"] = false
		def["ignore_empty_value"] = true
	}
	return Processor{"set": def}
}

func missingFieldCheck(field string) Processor {
	return Processor{"append": map[string]any{
		"field": types.FieldErrorReason,
		"value": fmt.Sprintf("%s is missing.", field),
		"if":    fmt.Sprintf("!ctx.containsKey('%s') || ctx['%s'] == null", field, field),
		"tag":   fmt.Sprintf("append-%s-%s", types.FieldErrorReason, field),
	}}
}

// AssetEnrichPolicy is the wanted asset mapping enrich policy
// definition. The concrete versioned name is resolved at apply time.
func AssetEnrichPolicy() elastic.EnrichPolicy {
	return elastic.EnrichPolicy{
		Indices:    []string{config.AssetMappingIndex},
		MatchField: types.FieldAssetUniqueID,
		EnrichFields: []string{
			types.FieldAssetType,
			types.FieldAssetRegion,
			types.FieldParentAssetUniqueID,
			types.FieldParentAssetType,
		},
	}
}

// indexTemplateVersion is bumped whenever the template body changes.
const indexTemplateVersion = 1

// IndexTemplateName is the composable template covering all daily event
// indices.
const IndexTemplateName = "correlator-events"

// IndexTemplate builds the events index template body.
func IndexTemplate(cfg config.ElasticConfig) map[string]any {
	return map[string]any{
		"index_patterns": []string{types.EventIndexPattern},
		"version":        indexTemplateVersion,
		"template": map[string]any{
			"settings": map[string]any{
				"index": map[string]any{
					"number_of_replicas": cfg.IndexReplicas,
					"mapping": map[string]any{
						"total_fields": map[string]any{"limit": cfg.TotalFieldsLimit},
					},
				},
			},
		},
	}
}
