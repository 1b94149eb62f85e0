// Package utils provides utility functions for the capacity planner.
package utils //nolint:revive // utils is a common and acceptable package name

import "time"

// SnapshotLayout is the timestamp layout of exported snapshot indices.
const SnapshotLayout = "2006-01-02 15:04:05"

// FormatSnapshot formats a snapshot timestamp for result tables.
func FormatSnapshot(t time.Time) string {
	return t.UTC().Format(SnapshotLayout)
}

// ParseSnapshot parses a timestamp written by FormatSnapshot.
func ParseSnapshot(s string) (time.Time, error) {
	return time.ParseInLocation(SnapshotLayout, s, time.UTC)
}

// RunStamp formats the start of a run as a compact UTC stamp, YYYYMMDDHHmm.
func RunStamp(t time.Time) string {
	return t.UTC().Format("200601021504")
}
