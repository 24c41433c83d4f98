package pipeline

import (
	"context"
	"fmt"

	"github.com/Vaayujeet/encore/pkg/config"
	"github.com/Vaayujeet/encore/pkg/elastic"
	"github.com/Vaayujeet/encore/pkg/log"
	"github.com/Vaayujeet/encore/pkg/store"
)

// Apply brings the cluster pipelines in line with the configured
// monitor tools: the enrich policy first, then one pipeline per tool,
// the default tool pipeline and finally the main event pipeline that
// routes between them.
func Apply(ctx context.Context, es *elastic.Client, st *store.Store, db store.DB) error {
	logger := log.WithComponent("pipeline")

	policyName, err := es.EnsureEnrichPolicy(ctx, config.AssetMappingPolicy, AssetEnrichPolicy())
	if err != nil {
		return fmt.Errorf("ensuring enrich policy: %w", err)
	}
	logger.Info().Str("policy", policyName).Msg("enrich policy in force")

	tools, err := st.ListMonitorTools(ctx, db)
	if err != nil {
		return err
	}

	haveDefault := false
	for _, tool := range tools {
		rules, err := st.ListPipelineRules(ctx, db, tool.ID)
		if err != nil {
			return err
		}
		name := ToolPipelineName(tool.Name)
		processors := ToolPipeline(rules)
		if name == config.DefaultToolPipeline() {
			haveDefault = true
			if len(rules) == 0 {
				processors = DefaultToolPipeline()
			}
		}
		if err := es.PutPipeline(ctx, name, Body(processors)); err != nil {
			return fmt.Errorf("putting pipeline %s: %w", name, err)
		}
		logger.Info().Str("pipeline", name).Int("rules", len(rules)).Msg("tool pipeline updated")
	}
	if !haveDefault {
		name := config.DefaultToolPipeline()
		if err := es.PutPipeline(ctx, name, Body(DefaultToolPipeline())); err != nil {
			return fmt.Errorf("putting pipeline %s: %w", name, err)
		}
		logger.Info().Str("pipeline", name).Msg("default tool pipeline updated")
	}

	if err := es.PutPipeline(ctx, config.MainPipeline, Body(MainPipeline(tools, policyName))); err != nil {
		return fmt.Errorf("putting pipeline %s: %w", config.MainPipeline, err)
	}
	logger.Info().Str("pipeline", config.MainPipeline).Int("tools", len(tools)).Msg("main pipeline updated")
	return nil
}

// ApplyIndexTemplate creates or updates the events index template.
func ApplyIndexTemplate(ctx context.Context, es *elastic.Client, cfg config.ElasticConfig) error {
	if err := es.PutIndexTemplate(ctx, IndexTemplateName, IndexTemplate(cfg)); err != nil {
		return fmt.Errorf("putting index template %s: %w", IndexTemplateName, err)
	}
	logger := log.WithComponent("pipeline")
	logger.Info().Str("template", IndexTemplateName).Msg("index template updated")
	return nil
}
