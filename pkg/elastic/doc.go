/*
Package elastic is the typed facade over the Elasticsearch event store.

All document access in the correlator goes through this package: point
reads, boolean searches with the four response shapes (raw, hit list,
first-or-nil, exactly-one), partial-merge updates, bulk updates and
pipeline-routed creates. It also carries the configuration-time surface:
ingest pipeline puts, the versioned enrich-policy lifecycle, index
templates and index housekeeping.

Searches are assembled with the query helpers in query.go rather than
hand-written JSON, so every caller builds the same bool/term/range shapes
the store expects.
*/
package elastic
