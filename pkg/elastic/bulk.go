package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/listenlab/artistrank/pkg/errors"
)

// BulkAction identifies the kind of write a BulkOp performs.
type BulkAction string

const (
	// ActionUpsert writes the full document, replacing any existing one.
	ActionUpsert BulkAction = "upsert"
	// ActionIncrement atomically adds Delta to an integer field of an
	// existing document, initialising the field to Delta when it is unset.
	// The conditional update runs server-side, so concurrent writers never
	// lose increments.
	ActionIncrement BulkAction = "increment"
)

// BulkOp is one item of a batched write.
type BulkOp struct {
	Index  string
	ID     string
	Action BulkAction
	Doc    any    // upsert payload
	Field  string // increment target field
	Delta  int64
}

// BulkItem is the per-op outcome of a bulk request.
type BulkItem struct {
	Index  string
	ID     string
	Status int
	Error  string
}

// Failed reports whether this item was rejected by the store.
func (it BulkItem) Failed() bool {
	return it.Error != "" || it.Status >= 400
}

// BulkResult summarises a bulk response.
type BulkResult struct {
	Took   int
	Errors bool
	Items  []BulkItem
}

// Failures returns the items the store rejected.
func (r *BulkResult) Failures() []BulkItem {
	var failed []BulkItem
	for _, it := range r.Items {
		if it.Failed() {
			failed = append(failed, it)
		}
	}
	return failed
}

// incrementScript is the server-side increment-or-initialize update applied
// by ActionIncrement ops. It lives here so no caller ever handles script
// text.
const incrementScript = "if (ctx._source.%s == null) { ctx._source.%s = params.count } else { ctx._source.%s += params.count }"

// Bulk executes all ops in a single request. A transport or whole-request
// failure returns an error; per-item rejections are reported in the result
// and do not fail the call.
func (c *Client) Bulk(ctx context.Context, ops []BulkOp) (*BulkResult, error) {
	if len(ops) == 0 {
		return &BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		switch op.Action {
		case ActionUpsert:
			if err := enc.Encode(map[string]any{
				"index": map[string]any{"_index": op.Index, "_id": op.ID},
			}); err != nil {
				return nil, fmt.Errorf("encoding bulk action line: %w", err)
			}
			if err := enc.Encode(op.Doc); err != nil {
				return nil, fmt.Errorf("encoding bulk document for %s/%s: %w", op.Index, op.ID, err)
			}
		case ActionIncrement:
			if err := enc.Encode(map[string]any{
				"update": map[string]any{"_index": op.Index, "_id": op.ID},
			}); err != nil {
				return nil, fmt.Errorf("encoding bulk action line: %w", err)
			}
			source := fmt.Sprintf(incrementScript, op.Field, op.Field, op.Field)
			if err := enc.Encode(map[string]any{
				"script": map[string]any{
					"source": source,
					"lang":   "painless",
					"params": map[string]any{"count": op.Delta},
				},
			}); err != nil {
				return nil, fmt.Errorf("encoding bulk script for %s/%s: %w", op.Index, op.ID, err)
			}
		default:
			return nil, fmt.Errorf("unknown bulk action %q for %s/%s", op.Action, op.Index, op.ID)
		}
	}

	status, body, err := c.doBulk(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: bulk returned status %d: %s", apperrors.ErrStoreUnavailable, status, truncate(body, 256))
	}

	result, err := parseBulkResponse(body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("executed bulk request",
		"ops", len(ops),
		"took_ms", result.Took,
		"failures", len(result.Failures()),
	)
	return result, nil
}

func (c *Client) doBulk(ctx context.Context, ndjson []byte) (int, []byte, error) {
	u := *c.baseURL
	u.Path = "/_bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(ndjson))
	if err != nil {
		return 0, nil, fmt.Errorf("building bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading bulk response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func parseBulkResponse(body []byte) (*BulkResult, error) {
	var resp struct {
		Took   int  `json:"took"`
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Index  string `json:"_index"`
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	result := &BulkResult{
		Took:   resp.Took,
		Errors: resp.Errors,
		Items:  make([]BulkItem, 0, len(resp.Items)),
	}
	for _, entry := range resp.Items {
		// Each item object has a single key named after the action.
		for _, detail := range entry {
			item := BulkItem{
				Index:  detail.Index,
				ID:     detail.ID,
				Status: detail.Status,
			}
			if detail.Error != nil {
				item.Error = fmt.Sprintf("%s: %s", detail.Error.Type, detail.Error.Reason)
			}
			result.Items = append(result.Items, item)
		}
	}
	return result, nil
}
