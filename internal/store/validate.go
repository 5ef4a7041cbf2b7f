package store

import "fmt"

// MaxTypeLength is the maximum allowed length for a job/scheduled-job type
// string. The schema stores type as TEXT with no column-level limit; this
// is an application-level bound, not a database constraint.
const MaxTypeLength = 255

// ValidateType checks that a job type is non-empty and not excessively long.
func ValidateType(typ string) error {
	if typ == "" {
		return fmt.Errorf("job type must not be empty")
	}
	if len(typ) > MaxTypeLength {
		return fmt.Errorf("job type too long: %d chars (max %d)", len(typ), MaxTypeLength)
	}
	return nil
}
