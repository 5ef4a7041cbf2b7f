package cronexpr

import (
	"testing"
	"time"
)

func TestValidateAcceptsStandardExpressions(t *testing.T) {
	for _, expr := range []string{"* * * * *", "0 0 * * *", "*/5 9-17 * * 1-5"} {
		if err := Validate(expr); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", expr, err)
		}
	}
}

func TestValidateRejectsMalformedExpressions(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "61 * * * *", "* * * *"} {
		if err := Validate(expr); err == nil {
			t.Errorf("Validate(%q) = nil, want error", expr)
		}
	}
}

func TestNextAdvancesStrictlyAfterGivenTime(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := Next("0 * * * *", after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !next.After(after) {
		t.Fatalf("next = %v, want strictly after %v", next, after)
	}
	want := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextRejectsInvalidExpression(t *testing.T) {
	if _, err := Next("garbage", time.Now()); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}
