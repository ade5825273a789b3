// Package bucket computes the names of time-bucketed document store indices.
// An index name is a pure function of (prefix, duration, timestamp): the
// timestamp's epoch minute is floored to the nearest multiple of the duration
// and rendered into the name. Events written at any instant inside a window
// land in the same index, and a rollup reading the previous window always
// sees a closed bucket.
package bucket

import "time"

// nameLayout renders the floored bucket instant, e.g.
// "listen-event-2020-05-14-18-30".
const nameLayout = "2006-01-02-15-04"

// IndexNameAt returns the bucket index name for the given instant.
// durationMins must be > 0; config validation enforces that before any
// caller gets here.
func IndexNameAt(prefix string, durationMins int, t time.Time) string {
	epochMins := t.Unix() / 60
	bucketMins := (epochMins / int64(durationMins)) * int64(durationMins)
	bucketStart := time.Unix(bucketMins*60, 0).UTC()
	return prefix + bucketStart.Format(nameLayout)
}

// CurrentIndexName returns the bucket receiving writes right now.
func CurrentIndexName(prefix string, durationMins int) string {
	return IndexNameAt(prefix, durationMins, time.Now())
}

// PreviousIndexNameAt returns the name of the bucket immediately before the
// one containing t. Subtracting one full duration before flooring guarantees
// the result is always the adjacent earlier window, wherever inside the
// current window t falls.
func PreviousIndexNameAt(prefix string, durationMins int, t time.Time) string {
	return IndexNameAt(prefix, durationMins, t.Add(-time.Duration(durationMins)*time.Minute))
}

// PreviousIndexName returns the now-closed bucket preceding the current one.
func PreviousIndexName(prefix string, durationMins int) string {
	return PreviousIndexNameAt(prefix, durationMins, time.Now())
}
