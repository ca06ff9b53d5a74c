package utils

import (
	"time"
)

func MsToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SecondsToTime converts a wall-clock timestamp in float seconds to a time.Time.
func SecondsToTime(s float64) time.Time {
	sec := int64(s)
	nsec := int64((s - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// TimeToSeconds is the inverse of SecondsToTime.
func TimeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
