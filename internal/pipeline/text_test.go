package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestComparisonText(t *testing.T) {
	t.Parallel()

	text := ComparisonText("Harbor strike", []string{"dockworkers walk out", "", "  talks stall  "})
	want := "Harbor strike\ndockworkers walk out\ntalks stall"
	if text != want {
		t.Fatalf("unexpected comparison text: %q", text)
	}
}

func TestComparisonText_NameOnly(t *testing.T) {
	t.Parallel()

	if text := ComparisonText("  Harbor strike  ", nil); text != "Harbor strike" {
		t.Fatalf("unexpected comparison text: %q", text)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Harbor Strike 2026", "harbor-strike-2026"},
		{"  The   mayor's race!  ", "the-mayor-s-race"},
		{"---", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestSlugify_CapsLength(t *testing.T) {
	t.Parallel()

	slug := Slugify(strings.Repeat("word ", 40))
	if len(slug) > maxSlugLength {
		t.Fatalf("slug exceeds max length: %d", len(slug))
	}
	if strings.HasSuffix(slug, "-") || strings.HasPrefix(slug, "-") {
		t.Fatalf("slug has dangling dash: %q", slug)
	}
}

func TestSlugify_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	slug := Slugify(strings.Repeat("ニュース", 30))
	if !utf8.ValidString(slug) {
		t.Fatalf("slug is not valid UTF-8: %q", slug)
	}
	if len(slug) > maxSlugLength {
		t.Fatalf("slug exceeds max length: %d", len(slug))
	}
	if slug == "" {
		t.Fatalf("expected non-empty slug")
	}
}

func TestMergeKeyPoints_DeduplicatesOnNormalizedText(t *testing.T) {
	t.Parallel()

	merged := mergeKeyPoints(
		[]string{"Talks stall", "Port closed"},
		[]string{"  talks   STALL ", "Union votes"},
		10,
	)
	want := []string{"Talks stall", "Port closed", "Union votes"}
	if len(merged) != len(want) {
		t.Fatalf("unexpected merged length: got %v", merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("merged[%d]: got %q want %q", i, merged[i], want[i])
		}
	}
}

func TestMergeKeyPoints_CapDropsOldestWholeEntries(t *testing.T) {
	t.Parallel()

	merged := mergeKeyPoints(
		[]string{"one", "two", "three"},
		[]string{"four", "five"},
		3,
	)
	want := []string{"three", "four", "five"}
	if len(merged) != 3 {
		t.Fatalf("expected 3 entries, got %v", merged)
	}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("merged[%d]: got %q want %q", i, merged[i], want[i])
		}
	}
}

func TestCapKeyPoints_NoopUnderLimit(t *testing.T) {
	t.Parallel()

	points := []string{"a", "b"}
	capped := capKeyPoints(points, 5)
	if len(capped) != 2 {
		t.Fatalf("expected unchanged list, got %v", capped)
	}
	if capped := capKeyPoints(points, 0); len(capped) != 2 {
		t.Fatalf("expected zero limit to disable capping, got %v", capped)
	}
}
