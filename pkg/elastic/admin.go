package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Vaayujeet/encore/pkg/types"
)

// PutPipeline creates or replaces one ingest pipeline.
func (c *Client) PutPipeline(ctx context.Context, id string, body map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	res, err := c.es.Ingest.PutPipeline(id, &buf, c.es.Ingest.PutPipeline.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// PutIndexTemplate creates or replaces one composable index template.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body map[string]any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	res, err := c.es.Indices.PutIndexTemplate(name, &buf, c.es.Indices.PutIndexTemplate.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// ListEventIndices returns the names of all daily event indices.
func (c *Client) ListEventIndices(ctx context.Context) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Get([]string{types.EventIndexPattern}, c.es.Indices.Get.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, respError(res)
	}

	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding indices response: %w", err)
	}
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteIndex drops one index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// DeleteIndexIfExists drops one index, ignoring a missing index.
func (c *Client) DeleteIndexIfExists(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.Indices.Delete([]string{name},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// IndexHasNonTerminal reports whether an index still holds any document
// whose status is not terminal. Such an index must never be purged.
func (c *Client) IndexHasNonTerminal(ctx context.Context, index string) (bool, error) {
	query := NewBool().
		Should(StatusShould(types.NonTerminalStatuses)...).
		Build()
	result, err := c.Search(ctx, SearchRequest{
		Index:          index,
		Query:          query,
		Size:           1,
		ExcludeDetails: true,
	})
	if err != nil {
		return false, err
	}
	return result.Total > 0, nil
}

// EnrichPolicy describes one match enrich policy.
type EnrichPolicy struct {
	Name         string
	Indices      []string
	MatchField   string
	EnrichFields []string
}

// VersionedName returns the concrete policy name for a version, for
// example "ecorr-asset-mapping-policy_v3".
func VersionedName(base string, version int) string {
	return fmt.Sprintf("%s_v%d", base, version)
}

// EnrichPolicies lists all enrich policies on the cluster.
func (c *Client) EnrichPolicies(ctx context.Context) ([]EnrichPolicy, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.EnrichGetPolicy(c.es.EnrichGetPolicy.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, respError(res)
	}

	var out struct {
		Policies []struct {
			Config struct {
				Match struct {
					Name         string   `json:"name"`
					Indices      []string `json:"indices"`
					MatchField   string   `json:"match_field"`
					EnrichFields []string `json:"enrich_fields"`
				} `json:"match"`
			} `json:"config"`
		} `json:"policies"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding enrich policies: %w", err)
	}

	policies := make([]EnrichPolicy, 0, len(out.Policies))
	for _, p := range out.Policies {
		policies = append(policies, EnrichPolicy{
			Name:         p.Config.Match.Name,
			Indices:      p.Config.Match.Indices,
			MatchField:   p.Config.Match.MatchField,
			EnrichFields: p.Config.Match.EnrichFields,
		})
	}
	return policies, nil
}

// PutEnrichPolicy creates one match enrich policy.
func (c *Client) PutEnrichPolicy(ctx context.Context, p EnrichPolicy) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body := map[string]any{
		"match": map[string]any{
			"indices":       p.Indices,
			"match_field":   p.MatchField,
			"enrich_fields": p.EnrichFields,
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	res, err := c.es.EnrichPutPolicy(p.Name, &buf, c.es.EnrichPutPolicy.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// ExecuteEnrichPolicy builds the enrich index for a policy.
func (c *Client) ExecuteEnrichPolicy(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.EnrichExecutePolicy(name,
		c.es.EnrichExecutePolicy.WithContext(ctx),
		c.es.EnrichExecutePolicy.WithWaitForCompletion(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// DeleteEnrichPolicy removes one policy.
func (c *Client) DeleteEnrichPolicy(ctx context.Context, name string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.es.EnrichDeletePolicy(name, c.es.EnrichDeletePolicy.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return respError(res)
	}
	return nil
}

// EnsureEnrichPolicy brings the cluster to the wanted policy definition
// using versioned names, since enrich policies are immutable. When the
// latest version already matches, it is reused. Otherwise a new version
// is created and executed and older versions are deleted. Returns the
// policy name now in force.
func (c *Client) EnsureEnrichPolicy(ctx context.Context, base string, want EnrichPolicy) (string, error) {
	existing, err := c.EnrichPolicies(ctx)
	if err != nil {
		return "", err
	}

	latest := 0
	var latestPolicy *EnrichPolicy
	var old []string
	prefix := base + "_v"
	for i, p := range existing {
		if !strings.HasPrefix(p.Name, prefix) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimPrefix(p.Name, prefix))
		if err != nil {
			continue
		}
		old = append(old, p.Name)
		if v > latest {
			latest = v
			latestPolicy = &existing[i]
		}
	}

	if latestPolicy != nil && samePolicyDef(*latestPolicy, want) {
		return latestPolicy.Name, nil
	}

	want.Name = VersionedName(base, latest+1)
	if err := c.PutEnrichPolicy(ctx, want); err != nil {
		return "", err
	}
	if err := c.ExecuteEnrichPolicy(ctx, want.Name); err != nil {
		return "", err
	}
	for _, name := range old {
		if err := c.DeleteEnrichPolicy(ctx, name); err != nil {
			return want.Name, fmt.Errorf("deleting stale policy %s: %w", name, err)
		}
	}
	return want.Name, nil
}

func samePolicyDef(a, b EnrichPolicy) bool {
	if a.MatchField != b.MatchField {
		return false
	}
	return sameStrings(a.Indices, b.Indices) && sameStrings(a.EnrichFields, b.EnrichFields)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
