package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var taskIDRegex = regexp.MustCompile(`^task_[0-9]{10}_[0-9a-f]{8}$`)

// GenerateTaskID returns a sortable task identifier: a unix timestamp for
// human-readable ordering plus a uuid fragment for uniqueness.
func GenerateTaskID() string {
	return fmt.Sprintf("task_%010d_%s", time.Now().Unix(), uuid.NewString()[:8])
}

func ValidateTaskID(id string) bool {
	return taskIDRegex.MatchString(id)
}

func ParseTaskIDTimestamp(id string) (time.Time, error) {
	if !ValidateTaskID(id) {
		return time.Time{}, fmt.Errorf("invalid task ID format: %s", id)
	}
	tsStr := id[len("task_") : len("task_")+10]
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from ID %s: %w", id, err)
	}
	return time.Unix(ts, 0), nil
}
