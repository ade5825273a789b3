package ingestion

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var errTest = errors.New("broker unreachable")

func newTestHandler(pub *fakePublisher) http.Handler {
	mux := http.NewServeMux()
	NewHandler(NewService(pub, nil)).Register(mux)
	return mux
}

func TestHandleListenAccepts(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	body := `{"artist_id":"artist-1","song_id":"song-1","user_id":"user-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/listen", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
	}

	var resp acceptedResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "accepted" || resp.Count != 1 {
		t.Errorf("response = %+v, want accepted with count 1", resp)
	}
	if resp.Event.Timestamp.IsZero() {
		t.Error("accepted event has no timestamp")
	}
	if len(pub.batches) != 1 {
		t.Errorf("published %d batches, want 1", len(pub.batches))
	}
}

func TestHandleListenCountParam(t *testing.T) {
	pub := &fakePublisher{}
	h := newTestHandler(pub)

	body := `{"artist_id":"artist-1","song_id":"song-1","user_id":"user-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/listen?count=7", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body)
	}
	if len(pub.batches[0]) != 7 {
		t.Errorf("batch size = %d, want 7", len(pub.batches[0]))
	}
}

func TestHandleListenRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		url  string
		body string
	}{
		{"malformed json", "/api/v1/events/listen", `{"artist_id":`},
		{"missing fields", "/api/v1/events/listen", `{"artist_id":"a"}`},
		{"non-numeric count", "/api/v1/events/listen?count=abc", `{"artist_id":"a","song_id":"s","user_id":"u"}`},
		{"zero count", "/api/v1/events/listen?count=0", `{"artist_id":"a","song_id":"s","user_id":"u"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := newTestHandler(pub)
			req := httptest.NewRequest(http.MethodPost, tt.url, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body %s", rec.Code, rec.Body)
			}
			if len(pub.batches) != 0 {
				t.Error("rejected request still published events")
			}
		})
	}
}

func TestHandleListenPublishFailureSurfaces(t *testing.T) {
	pub := &fakePublisher{err: errTest}
	h := newTestHandler(pub)

	body := `{"artist_id":"artist-1","song_id":"song-1","user_id":"user-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/listen", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500; body %s", rec.Code, rec.Body)
	}
}
