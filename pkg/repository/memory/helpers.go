package memory

import (
	"fmt"
	"time"
)

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func errMissing(entity string, id int64) error {
	return fmt.Errorf("memory: %s %d does not exist", entity, id)
}
