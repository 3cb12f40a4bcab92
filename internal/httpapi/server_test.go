package httpapi

import "testing"

func TestParseThresholdParam(t *testing.T) {
	t.Parallel()

	if _, err := parseThresholdParam(""); err == nil {
		t.Fatalf("expected error for missing threshold")
	}
	if _, err := parseThresholdParam("abc"); err == nil {
		t.Fatalf("expected error for non-numeric threshold")
	}
	if _, err := parseThresholdParam("0"); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
	if _, err := parseThresholdParam("1.01"); err == nil {
		t.Fatalf("expected error for threshold above 1")
	}

	value, err := parseThresholdParam(" 0.85 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 0.85 {
		t.Fatalf("unexpected threshold: %f", value)
	}
}

func TestParsePositiveInt(t *testing.T) {
	t.Parallel()

	value, err := parsePositiveInt("", 25, 1, 200)
	if err != nil || value != 25 {
		t.Fatalf("expected default 25, got %d err=%v", value, err)
	}

	if _, err := parsePositiveInt("abc", 25, 1, 200); err == nil {
		t.Fatalf("expected error for non-integer")
	}
	if _, err := parsePositiveInt("0", 25, 1, 200); err == nil {
		t.Fatalf("expected error below minimum")
	}
	if _, err := parsePositiveInt("500", 25, 1, 200); err == nil {
		t.Fatalf("expected error above maximum")
	}

	value, err = parsePositiveInt("100", 25, 1, 200)
	if err != nil || value != 100 {
		t.Fatalf("expected 100, got %d err=%v", value, err)
	}
}
