package build

import "time"

// Timestamp mirrors Stu's own timestamp.hh: a file's mtime, or the sentinel
// "missing" value (LONG_MAX in the original) when the file doesn't exist or
// the target isn't a file at all. Using a distinct Exists bool instead of a
// magic time value keeps zero-value Timestamp safely meaning "missing"
// rather than "the Unix epoch".
type Timestamp struct {
	t      time.Time
	exists bool
}

// MissingTimestamp is the "file did not exist" sentinel.
var MissingTimestamp = Timestamp{}

// NewTimestamp wraps a real mtime.
func NewTimestamp(t time.Time) Timestamp { return Timestamp{t: t, exists: true} }

// Exists reports whether this timestamp refers to a real point in time.
func (ts Timestamp) Exists() bool { return ts.exists }

// Time returns the wrapped time.Time; only meaningful when Exists() is true.
func (ts Timestamp) Time() time.Time { return ts.t }

// Before reports whether ts is strictly earlier than other. A missing
// timestamp is never before anything (it sorts as "infinitely new", mirroring
// the original using LONG_MAX as the placeholder so a missing dependency
// never looks stale relative to a present target).
func (ts Timestamp) Before(other Timestamp) bool {
	if !ts.exists {
		return false
	}
	if !other.exists {
		return true
	}
	return ts.t.Before(other.t)
}

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool {
	return other.Before(ts) && !ts.t.Equal(other.t)
}

// Max returns the later of ts and other; a missing timestamp never wins.
func Max(ts, other Timestamp) Timestamp {
	if !ts.exists {
		return other
	}
	if !other.exists {
		return ts
	}
	if other.t.After(ts.t) {
		return other
	}
	return ts
}
