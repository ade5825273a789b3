package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/listenlab/artistrank/pkg/errors"
)

// Hit is one scored search result.
type Hit struct {
	Index  string
	ID     string
	Score  float64
	Source json.RawMessage
}

// TermsBucket is one bucket of a terms aggregation. Sub-aggregations are
// reachable through Terms.
type TermsBucket struct {
	Key      string
	DocCount int64

	sub map[string]json.RawMessage
}

// Terms returns the buckets of a nested terms aggregation, or nil when the
// bucket has no sub-aggregation by that name.
func (b TermsBucket) Terms(name string) []TermsBucket {
	raw, ok := b.sub[name]
	if !ok {
		return nil
	}
	buckets, err := parseTermsAgg(raw)
	if err != nil {
		return nil
	}
	return buckets
}

// SearchResult holds hits and aggregations of one search call.
type SearchResult struct {
	Took      int
	TotalHits int64
	Hits      []Hit

	aggs map[string]json.RawMessage
}

// Terms returns the buckets of a top-level terms aggregation, or nil when
// the response carries no aggregation by that name.
func (r *SearchResult) Terms(name string) []TermsBucket {
	raw, ok := r.aggs[name]
	if !ok {
		return nil
	}
	buckets, err := parseTermsAgg(raw)
	if err != nil {
		return nil
	}
	return buckets
}

// Search executes a query body against an index. A missing index yields an
// empty result, which callers treat the same as zero matching documents.
func (c *Client) Search(ctx context.Context, index string, body any) (*SearchResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling search body: %w", err)
	}

	// ignore_unavailable covers the first cycle after startup, when the
	// previous time bucket was never created.
	path := fmt.Sprintf("/%s/_search", url.PathEscape(index))
	query := "ignore_unavailable=true&allow_no_indices=true"
	status, respBody, err := c.do(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &SearchResult{}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: search on %s returned status %d: %s", apperrors.ErrStoreUnavailable, index, status, truncate(respBody, 256))
	}

	return parseSearchResponse(respBody)
}

func parseSearchResponse(body []byte) (*SearchResult, error) {
	var resp struct {
		Took int `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Index  string          `json:"_index"`
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	result := &SearchResult{
		Took:      resp.Took,
		TotalHits: resp.Hits.Total.Value,
		Hits:      make([]Hit, 0, len(resp.Hits.Hits)),
		aggs:      resp.Aggregations,
	}
	for _, h := range resp.Hits.Hits {
		result.Hits = append(result.Hits, Hit{
			Index:  h.Index,
			ID:     h.ID,
			Score:  h.Score,
			Source: h.Source,
		})
	}
	return result, nil
}

func parseTermsAgg(raw json.RawMessage) ([]TermsBucket, error) {
	var agg struct {
		Buckets []map[string]json.RawMessage `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decoding terms aggregation: %w", err)
	}

	buckets := make([]TermsBucket, 0, len(agg.Buckets))
	for _, entry := range agg.Buckets {
		var bucket TermsBucket
		bucket.sub = make(map[string]json.RawMessage)
		var key, keyAsString string
		for field, value := range entry {
			switch field {
			case "key":
				// Term keys for our fields are strings, but numeric keys
				// are decoded too rather than dropped.
				if err := json.Unmarshal(value, &key); err != nil {
					var n json.Number
					if err := json.Unmarshal(value, &n); err == nil {
						key = n.String()
					}
				}
			case "doc_count":
				if err := json.Unmarshal(value, &bucket.DocCount); err != nil {
					return nil, fmt.Errorf("decoding bucket doc_count: %w", err)
				}
			case "key_as_string":
				_ = json.Unmarshal(value, &keyAsString)
			default:
				bucket.sub[field] = value
			}
		}
		// prefer the string rendering when the store provides one
		bucket.Key = key
		if keyAsString != "" {
			bucket.Key = keyAsString
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// NewSearchResult assembles a SearchResult from parts. It exists for fakes
// and tests that stand in for a live store.
func NewSearchResult(hits []Hit, total int64, aggs map[string]json.RawMessage) *SearchResult {
	return &SearchResult{
		TotalHits: total,
		Hits:      hits,
		aggs:      aggs,
	}
}
