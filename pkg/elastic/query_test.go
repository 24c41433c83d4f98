package elastic

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Vaayujeet/encore/pkg/types"
)

func TestTermUsesKeyword(t *testing.T) {
	q := Term("status", "new")
	assert.Equal(t, Query{"term": Query{"status.keyword": "new"}}, q)
}

func TestTermCI(t *testing.T) {
	q := TermCI("asset_unique_id", "RTR-01")
	inner := q["term"].(Query)["asset_unique_id.keyword"].(Query)
	assert.Equal(t, "RTR-01", inner["value"])
	assert.Equal(t, true, inner["case_insensitive"])
}

func TestBoolBuild(t *testing.T) {
	q := NewBool().
		Must(Term("event_type", "down"), TermCI("asset_unique_id", "rtr-01")).
		MustNot(Exists("linked_event_id")).
		Should(StatusShould(types.ActiveStatuses)...).
		Build()

	inner := q["bool"].(Query)
	assert.Len(t, inner["must"], 2)
	assert.Len(t, inner["must_not"], 1)
	assert.Len(t, inner["should"], 4)
	assert.Equal(t, 1, inner["minimum_should_match"])
}

func TestBoolOmitsEmptySections(t *testing.T) {
	q := NewBool().Must(Exists("itsm_ticket")).Build()
	inner := q["bool"].(Query)
	assert.Contains(t, inner, "must")
	assert.NotContains(t, inner, "must_not")
	assert.NotContains(t, inner, "should")
}

func TestEnsureEnrichPolicyVersioning(t *testing.T) {
	assert.Equal(t, "ecorr-asset-mapping-policy_v3", VersionedName("ecorr-asset-mapping-policy", 3))

	a := EnrichPolicy{Indices: []string{"ecorr-asset-mapping"}, MatchField: "asset_unique_id", EnrichFields: []string{"asset_type", "asset_region"}}
	b := EnrichPolicy{Indices: []string{"ecorr-asset-mapping"}, MatchField: "asset_unique_id", EnrichFields: []string{"asset_region", "asset_type"}}
	assert.True(t, samePolicyDef(a, b))

	b.MatchField = "other"
	assert.False(t, samePolicyDef(a, b))
}
