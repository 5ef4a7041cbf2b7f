// Package cronexpr validates and evaluates standard cron expressions on top
// of github.com/adhocore/gronx, the same library the teacher's cron service
// used for schedule validation and next-fire computation.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Validate reports whether expr is a well-formed cron expression.
func Validate(expr string) error {
	if expr == "" {
		return fmt.Errorf("cronexpr: expression must not be empty")
	}
	gx := gronx.New()
	if !gx.IsValid(expr) {
		return fmt.Errorf("cronexpr: invalid cron expression %q", expr)
	}
	return nil
}

// Next returns the next fire time for expr strictly after 'after'.
func Next(expr string, after time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(expr, after, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("cronexpr: next tick for %q: %w", expr, err)
	}
	return next, nil
}
