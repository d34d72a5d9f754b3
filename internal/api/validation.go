package api

import (
	"errors"
	"fmt"
	"time"
)

// errMissingOffset marks a timestamp that parsed but carried no timezone
// offset. Surfaced as a 400 distinct from a generally malformed timestamp.
var errMissingOffset = errors.New("schedule_time must include a timezone offset")

// naive layouts: timestamps that parse under these carry no offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func validateScheduleRequest(req ScheduleRequest) error {
	if req.ScheduleTime == "" {
		return fmt.Errorf("schedule_time is required")
	}
	if req.Content == "" {
		return fmt.Errorf("content is required")
	}
	if req.BarkKey == "" {
		return fmt.Errorf("bark_key is required")
	}
	return nil
}

// parseScheduleTime parses an RFC 3339 timestamp, rejecting timestamps
// without an offset with errMissingOffset.
func parseScheduleTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	for _, layout := range naiveLayouts {
		if _, err := time.Parse(layout, raw); err == nil {
			return time.Time{}, errMissingOffset
		}
	}

	return time.Time{}, fmt.Errorf("schedule_time is not a valid RFC 3339 timestamp: %q", raw)
}
