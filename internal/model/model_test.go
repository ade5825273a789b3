package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	event := ListenEvent{
		ArtistID:  "artist-1",
		SongID:    "song-1",
		UserID:    "user-1",
		Timestamp: At(time.Date(2020, 5, 14, 18, 32, 10, 0, time.UTC)),
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `"timestamp":"2020-05-14T18:32:10.000"`
	if !strings.Contains(string(data), want) {
		t.Fatalf("marshaled event %s does not contain %s", data, want)
	}

	var decoded ListenEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Timestamp.Equal(event.Timestamp.Time) {
		t.Errorf("round trip timestamp = %v, want %v", decoded.Timestamp, event.Timestamp)
	}
}

func TestTimestampZeroMarshalsNull(t *testing.T) {
	data, err := json.Marshal(ListenEvent{ArtistID: "a"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":null`) {
		t.Errorf("zero timestamp marshaled as %s, want null", data)
	}
}

func TestTimestampAcceptsSecondPrecision(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2020-05-14T18:32:10"`), &ts); err != nil {
		t.Fatalf("unmarshal without millis: %v", err)
	}
	if ts.Minute() != 32 || ts.Second() != 10 {
		t.Errorf("parsed %v, want 18:32:10", ts)
	}
}

func TestUserProfileMerge(t *testing.T) {
	profile := UserProfile{
		UserID:         "user-1",
		ArtistRankings: []ArtistRanking{{ArtistID: "artistA", Ranking: 5}},
	}

	profile.Merge([]ArtistRanking{
		{ArtistID: "artistA", Ranking: 3},
		{ArtistID: "artistB", Ranking: 2},
	})

	if len(profile.ArtistRankings) != 2 {
		t.Fatalf("merged profile has %d entries, want 2", len(profile.ArtistRankings))
	}
	if got := profile.Ranking("artistA"); got != 8 {
		t.Errorf("artistA ranking = %d, want 8", got)
	}
	if got := profile.Ranking("artistB"); got != 2 {
		t.Errorf("artistB ranking = %d, want 2", got)
	}
}

func TestUserProfileMergeNeverDuplicates(t *testing.T) {
	var profile UserProfile
	profile.Merge([]ArtistRanking{{ArtistID: "artistA", Ranking: 1}})
	profile.Merge([]ArtistRanking{{ArtistID: "artistA", Ranking: 1}})
	profile.Merge([]ArtistRanking{{ArtistID: "artistA", Ranking: 4}})

	if len(profile.ArtistRankings) != 1 {
		t.Fatalf("profile has %d entries for one artist, want 1", len(profile.ArtistRankings))
	}
	if got := profile.Ranking("artistA"); got != 6 {
		t.Errorf("artistA ranking = %d, want 6", got)
	}
}

func TestUserProfileWireFormat(t *testing.T) {
	profile := UserProfile{
		UserID:         "user-1",
		ArtistRankings: []ArtistRanking{{ArtistID: "artistA", Ranking: 5}},
	}
	data, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"user_id"`, `"artist_ranking"`, `"artist_id"`, `"ranking"`} {
		if !strings.Contains(string(data), field) {
			t.Errorf("profile wire form %s is missing %s", data, field)
		}
	}
}

