package api

import (
	"time"
)

// timeLayout mirrors pkg/store's own ISO-8601 formatting so every
// timestamp the HTTP layer renders is byte-identical to what is
// persisted.
const timeLayout = time.RFC3339Nano

func isoString(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isoStringPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return isoString(*t)
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
