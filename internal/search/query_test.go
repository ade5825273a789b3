package search

import (
	"encoding/json"
	"testing"

	"github.com/listenlab/artistrank/internal/model"
)

func dig(t *testing.T, m map[string]any, path ...string) any {
	t.Helper()
	var cur any = m
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %T is not an object", path, cur)
		}
		cur, ok = node[key]
		if !ok {
			t.Fatalf("path %v: key %q missing", path, key)
		}
	}
	return cur
}

func TestBuildQueryTextualClauses(t *testing.T) {
	body := BuildQuery(Params{Term: "Meta", Size: 10}, nil)

	if got := body["size"]; got != 10 {
		t.Errorf("size = %v, want 10", got)
	}
	if _, ok := body["from"]; ok {
		t.Error("from emitted for offset 0")
	}

	boolQuery := dig(t, body, "query", "bool").(map[string]any)
	if got := boolQuery["minimum_should_match"]; got != 1 {
		t.Errorf("minimum_should_match = %v, want 1", got)
	}

	should := boolQuery["should"].([]any)
	if len(should) != 2 {
		t.Fatalf("got %d should clauses, want 2", len(should))
	}

	exact := dig(t, should[0].(map[string]any), "multi_match").(map[string]any)
	if got := exact["fuzziness"]; got != 0 {
		t.Errorf("exact clause fuzziness = %v, want 0", got)
	}
	if got := exact["operator"]; got != "and" {
		t.Errorf("exact clause operator = %v, want and", got)
	}
	exactFields := exact["fields"].([]string)
	if len(exactFields) != 2 || exactFields[0] != "artist_name^2" || exactFields[1] != "artist_name.prefix" {
		t.Errorf("exact clause fields = %v", exactFields)
	}

	fuzzy := dig(t, should[1].(map[string]any), "multi_match").(map[string]any)
	if got := fuzzy["fuzziness"]; got != 1 {
		t.Errorf("fuzzy clause fuzziness = %v, want 1", got)
	}
	fuzzyFields := fuzzy["fields"].([]string)
	if len(fuzzyFields) != 1 || fuzzyFields[0] != "artist_name.prefix^0.5" {
		t.Errorf("fuzzy clause fields = %v", fuzzyFields)
	}
}

func TestBuildQueryPagination(t *testing.T) {
	body := BuildQuery(Params{Term: "Meta", From: 20, Size: 10}, nil)
	if got := body["from"]; got != 20 {
		t.Errorf("from = %v, want 20", got)
	}
}

func TestBuildQueryWithoutBoostsIsPlainBool(t *testing.T) {
	body := BuildQuery(Params{Term: "Meta", Size: 10}, nil)
	query := body["query"].(map[string]any)
	if _, ok := query["function_score"]; ok {
		t.Error("boosts disabled but query still wrapped in function_score")
	}
}

func TestBuildQueryPopularityBoost(t *testing.T) {
	body := BuildQuery(Params{Term: "Meta", Size: 10, IncludeRanking: true}, nil)

	fs := dig(t, body, "query", "function_score").(map[string]any)
	if fs["score_mode"] != "multiply" || fs["boost_mode"] != "multiply" {
		t.Errorf("score_mode/boost_mode = %v/%v, want multiply/multiply", fs["score_mode"], fs["boost_mode"])
	}
	functions := fs["functions"].([]any)
	if len(functions) != 1 {
		t.Fatalf("got %d score functions, want popularity only", len(functions))
	}
	script := dig(t, functions[0].(map[string]any), "script_score", "script").(map[string]any)
	if script["source"] != popularityScript {
		t.Errorf("popularity script = %v", script["source"])
	}
}

func TestBuildQueryPersonalisesOnlyProfileArtists(t *testing.T) {
	profile := &model.UserProfile{
		UserID: "user-1",
		ArtistRankings: []model.ArtistRanking{
			{ArtistID: "artistA", Ranking: 8}, // log2(8) = 3
			{ArtistID: "artistB", Ranking: 1}, // weight 1, no function emitted
		},
	}
	body := BuildQuery(Params{Term: "Meta", Size: 10, IncludeUserProfile: true}, profile)
	functions := dig(t, body, "query", "function_score").(map[string]any)["functions"].([]any)
	if len(functions) != 1 {
		t.Fatalf("got %d score functions, want artistA weight only", len(functions))
	}

	weighted := functions[0].(map[string]any)
	filter := dig(t, weighted, "filter", "term").(map[string]any)
	if filter["artist_id"] != "artistA" {
		t.Errorf("weight function filters on %v, want artistA", filter["artist_id"])
	}
	if got := weighted["weight"].(float64); got != 3 {
		t.Errorf("artistA weight = %v, want 3", got)
	}
}

func TestBuildQueryProfileIgnoredWithoutFlag(t *testing.T) {
	profile := &model.UserProfile{
		UserID:         "user-1",
		ArtistRankings: []model.ArtistRanking{{ArtistID: "artistA", Ranking: 8}},
	}
	body := BuildQuery(Params{Term: "Meta", Size: 10}, profile)
	if _, ok := body["query"].(map[string]any)["function_score"]; ok {
		t.Error("profile applied although includeUserProfile was off")
	}
}

func TestPersonalWeightFloorAndMonotonicity(t *testing.T) {
	for _, r := range []int64{-5, 0, 1, 2} {
		if got := personalWeight(r); got != 1 {
			t.Errorf("personalWeight(%d) = %v, want floor of 1", r, got)
		}
	}

	prev := personalWeight(1)
	for _, r := range []int64{2, 4, 8, 100, 10000} {
		got := personalWeight(r)
		if got < prev {
			t.Errorf("personalWeight(%d) = %v decreased below %v", r, got, prev)
		}
		prev = got
	}
	if got := personalWeight(8); got != 3 {
		t.Errorf("personalWeight(8) = %v, want 3", got)
	}
}

func TestBuildQueryMarshals(t *testing.T) {
	profile := &model.UserProfile{
		UserID:         "user-1",
		ArtistRankings: []model.ArtistRanking{{ArtistID: "artistA", Ranking: 8}},
	}
	p := Params{Term: "Meta", From: 10, Size: 10, IncludeRanking: true, IncludeUserProfile: true}
	if _, err := json.Marshal(BuildQuery(p, profile)); err != nil {
		t.Fatalf("query body does not marshal: %v", err)
	}
}
