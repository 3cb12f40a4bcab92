package pipeline

import (
	"testing"
)

func TestConfigNormalized_AppliesDefaults(t *testing.T) {
	t.Parallel()

	conf := Config{}.normalized()
	if conf.KeyPointCap != DefaultKeyPointCap {
		t.Fatalf("unexpected key point cap: %d", conf.KeyPointCap)
	}
	if conf.LookbackDays != DefaultLookbackDays {
		t.Fatalf("unexpected lookback: %d", conf.LookbackDays)
	}
	if conf.MaxAgeDays != DefaultMaxAgeDays {
		t.Fatalf("unexpected max age: %d", conf.MaxAgeDays)
	}
	if conf.InactivityDays != DefaultInactivityDays {
		t.Fatalf("unexpected inactivity: %d", conf.InactivityDays)
	}
}

func TestConfigNormalized_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	conf := Config{KeyPointCap: 5, LookbackDays: 7, MaxAgeDays: 30, InactivityDays: 3}.normalized()
	if conf.KeyPointCap != 5 || conf.LookbackDays != 7 || conf.MaxAgeDays != 30 || conf.InactivityDays != 3 {
		t.Fatalf("explicit values were overridden: %+v", conf)
	}
}

func TestFragmentValidate(t *testing.T) {
	t.Parallel()

	valid := Fragment{PartitionKey: "metro", Name: "Harbor strike", SourceID: "s1"}
	if err := valid.validate(); err != nil {
		t.Fatalf("expected valid fragment, got %v", err)
	}

	cases := []struct {
		name     string
		fragment Fragment
	}{
		{"empty name", Fragment{PartitionKey: "metro", SourceID: "s1"}},
		{"whitespace name", Fragment{PartitionKey: "metro", Name: "  ", SourceID: "s1"}},
		{"empty partition", Fragment{Name: "Harbor strike", SourceID: "s1"}},
		{"empty source", Fragment{PartitionKey: "metro", Name: "Harbor strike"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.fragment.validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestValidateThreshold(t *testing.T) {
	t.Parallel()

	for _, valid := range []float64{0.001, 0.5, 1} {
		if err := validateThreshold(valid); err != nil {
			t.Fatalf("expected %v to be valid: %v", valid, err)
		}
	}
	for _, invalid := range []float64{0, -0.5, 1.01} {
		if err := validateThreshold(invalid); err == nil {
			t.Fatalf("expected %v to be rejected", invalid)
		}
	}
}
