package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/dashwire/dashwire/core"
)

// Fingerprint derives the stable cache key component identifying one
// logical query: the applied filters, the dataset reference and the
// configuration keys that affect the query. Identical logical queries
// fingerprint identically regardless of map key ordering, which
// encoding/json guarantees by marshaling map keys in sorted order at
// every nesting level.
//
// Built on the standard library: the pack carries no dedicated hashing
// dependency, and sha256 over canonical JSON needs nothing more.
func Fingerprint(chart core.Chart) string {
	payload := map[string]any{
		"dataset": chart.DatasetReference,
		"filters": chart.Filters,
		"config":  queryRelevantConfig(chart.Configuration),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Unmarshalable values (channels, funcs) never appear in
		// declarative chart configuration; fall back to the dataset
		// reference alone rather than failing the fetch path.
		raw = []byte(chart.DatasetReference)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// queryRelevantConfig extracts the configuration keys that change what the
// backend queries. Styling keys (axes, colors, legend) do not participate
// in the fingerprint, so a pure restyle never invalidates cached data.
func queryRelevantConfig(config map[string]any) map[string]any {
	relevant := map[string]any{}
	for _, key := range []string{"groupBy", "aggregation", "limit", "orderBy", "timeRange"} {
		if v, ok := config[key]; ok {
			relevant[key] = v
		}
	}
	return relevant
}
