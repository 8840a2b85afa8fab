// Package clock maps day-aligned timestamps to the opaque generated IDs
// used to key mail-list range queries, and back.
package clock

import (
	"fmt"
	"time"

	"github.com/northbound-dev/mailindex/internal/domain"
)

// idWidth is wide enough to hold any epoch-millisecond value used here
// through the year 2286, left-padded so lexical and numeric order agree.
const idWidth = 13

// GeneratedMaxID is larger than any ID TimestampToID can produce, used
// as the start of a backfill range when nothing has been indexed yet.
const GeneratedMaxID domain.GeneratedID = "9999999999999"

// StartOfDayShifted returns the UTC midnight of the day dayOffset days
// after now. A negative dayOffset moves into the past, as used to turn
// "28 days ago" into a concrete cutoff.
func StartOfDayShifted(now time.Time, dayOffset int) time.Time {
	shifted := now.UTC().AddDate(0, 0, dayOffset)
	return time.Date(shifted.Year(), shifted.Month(), shifted.Day(), 0, 0, 0, 0, time.UTC)
}

// TimestampToID produces the smallest generated ID whose embedded time
// is greater than or equal to ts.
func TimestampToID(ts time.Time) domain.GeneratedID {
	ms := ts.UTC().UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return domain.GeneratedID(fmt.Sprintf("%0*d", idWidth, ms))
}

// IDToTimestamp inverts TimestampToID. It round-trips exactly for any
// input with millisecond precision at or after the Unix epoch.
func IDToTimestamp(id domain.GeneratedID) (time.Time, error) {
	var ms int64
	if _, err := fmt.Sscanf(string(id), "%d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("could not parse generated id %q: %w", id, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
