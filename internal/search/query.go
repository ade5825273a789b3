// Package search serves relevance-ranked artist lookups over the catalog,
// optionally blending textual match quality with global popularity and the
// caller's own listening history.
package search

import (
	"math"

	"github.com/listenlab/artistrank/internal/model"
)

// popularityScript converts an artist's accumulated play count into a score
// multiplier. The log10 curve keeps runaway-popular artists from drowning
// textual relevance, and the floor of 1 leaves unplayed artists unaffected.
const popularityScript = "double r = doc['ranking'].size() == 0 ? 1 : Math.max(1, doc['ranking'].value); return Math.max(1.0, Math.log10(r));"

// personalWeight converts a user's play count for one artist into a score
// multiplier. Like the popularity factor it is floored at 1, so an artist
// the user barely listens to is never penalised below its base score.
func personalWeight(ranking int64) float64 {
	if ranking < 1 {
		return 1
	}
	return math.Max(1, math.Log2(float64(ranking)))
}

// BuildQuery assembles the artist search body: a fuzzy-tolerant textual
// match, optionally wrapped in a function_score that multiplies in global
// popularity and per-artist personal weights from the profile. All factors
// are >= 1, so boosting only ever reorders upward.
func BuildQuery(p Params, profile *model.UserProfile) map[string]any {
	textual := map[string]any{
		"bool": map[string]any{
			"should": []any{
				map[string]any{
					"multi_match": map[string]any{
						"query":     p.Term,
						"fields":    []string{"artist_name^2", "artist_name.prefix"},
						"fuzziness": 0,
						"operator":  "and",
					},
				},
				map[string]any{
					"multi_match": map[string]any{
						"query":     p.Term,
						"fields":    []string{"artist_name.prefix^0.5"},
						"fuzziness": 1,
						"operator":  "and",
					},
				},
			},
			"minimum_should_match": 1,
		},
	}

	var functions []any
	if p.IncludeRanking {
		functions = append(functions, map[string]any{
			"script_score": map[string]any{
				"script": map[string]any{
					"source": popularityScript,
					"lang":   "painless",
				},
			},
		})
	}
	if p.IncludeUserProfile && profile != nil {
		for _, ar := range profile.ArtistRankings {
			weight := personalWeight(ar.Ranking)
			if weight <= 1 {
				continue
			}
			functions = append(functions, map[string]any{
				"filter": map[string]any{
					"term": map[string]any{"artist_id": ar.ArtistID},
				},
				"weight": weight,
			})
		}
	}

	query := textual
	if len(functions) > 0 {
		query = map[string]any{
			"function_score": map[string]any{
				"query":      textual,
				"functions":  functions,
				"score_mode": "multiply",
				"boost_mode": "multiply",
			},
		}
	}

	body := map[string]any{
		"size":  p.Size,
		"query": query,
	}
	if p.From > 0 {
		body["from"] = p.From
	}
	return body
}
