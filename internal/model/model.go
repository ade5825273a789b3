// Package model defines the persisted document shapes shared by ingestion,
// rollup, and search. Field names are a wire contract with the document
// store and never change casing.
package model

// ListenEvent is one play of an artist's song by a user. Events are written
// once into a time-bucketed index and only ever read in aggregate.
type ListenEvent struct {
	ArtistID  string    `json:"artist_id"`
	SongID    string    `json:"song_id"`
	UserID    string    `json:"user_id"`
	Timestamp Timestamp `json:"timestamp"`
}

// ArtistRanking is an accumulated play count for one artist within one
// scope: the global catalog, a history bucket, or a single user's profile.
// Identity is the artist id alone; the count is an accumulator.
type ArtistRanking struct {
	ArtistID string `json:"artist_id"`
	Ranking  int64  `json:"ranking"`
}

// UserProfile aggregates a user's listening history as a set of artist
// rankings, unique by artist id.
type UserProfile struct {
	UserID         string          `json:"user_id"`
	ArtistRankings []ArtistRanking `json:"artist_ranking"`
}

// Merge folds increment entries into the profile. An increment for a known
// artist adds to the existing entry; an unknown artist appends a new one.
// The set-uniqueness invariant (one entry per artist id) is preserved.
func (p *UserProfile) Merge(increments []ArtistRanking) {
	for _, inc := range increments {
		merged := false
		for i := range p.ArtistRankings {
			if p.ArtistRankings[i].ArtistID == inc.ArtistID {
				p.ArtistRankings[i].Ranking += inc.Ranking
				merged = true
				break
			}
		}
		if !merged {
			p.ArtistRankings = append(p.ArtistRankings, inc)
		}
	}
}

// Ranking returns the accumulated count for an artist, or 0 when the
// profile has never seen it.
func (p *UserProfile) Ranking(artistID string) int64 {
	for _, ar := range p.ArtistRankings {
		if ar.ArtistID == artistID {
			return ar.Ranking
		}
	}
	return 0
}

// ArtistDocument is a searchable catalog record. Score is transient: it is
// populated from the engine on search results and never persisted.
type ArtistDocument struct {
	ArtistID   string  `json:"artist_id"`
	ArtistName string  `json:"artist_name"`
	Ranking    int64   `json:"ranking,omitempty"`
	Score      float64 `json:"_score,omitempty"`
}

// Rollup is the ephemeral product of one aggregation cycle: global play
// counts per artist and per-user increment sets. It is never persisted;
// its content flows into the catalog, the history bucket, and profiles.
type Rollup struct {
	ArtistCounts     map[string]int64
	UserArtistCounts map[string][]ArtistRanking
}

// Empty reports whether the cycle found nothing to write.
func (r *Rollup) Empty() bool {
	return len(r.ArtistCounts) == 0 && len(r.UserArtistCounts) == 0
}
