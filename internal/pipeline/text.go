package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"lore.fm/arcs/internal/embedding"
)

const maxSlugLength = 80

// ComparisonText builds the single text an arc or fragment is embedded
// under: the display name followed by its key points, one per line.
func ComparisonText(name string, keyPoints []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(name))
	for _, point := range keyPoints {
		trimmed := strings.TrimSpace(point)
		if trimmed == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(trimmed)
	}
	return b.String()
}

// Slugify derives the stable slug for an arc display name. Used for
// idempotent upsert, not for semantic identity.
func Slugify(name string) string {
	normalized := embedding.NormalizeText(name)
	if normalized == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(normalized))
	lastDash := true
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		// Cut on a rune boundary; a split multi-byte rune is not valid UTF-8
		// and Postgres rejects it.
		cut := maxSlugLength
		for cut > 0 && !utf8.RuneStart(slug[cut]) {
			cut--
		}
		slug = strings.Trim(slug[:cut], "-")
	}
	return slug
}

// mergeKeyPoints folds additional key points into an existing ordered list,
// deduplicated on normalized text, then capped. Entries are kept whole:
// excess drops whole points from the least-recent end, never mid-string.
func mergeKeyPoints(existing, incoming []string, limit int) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))

	appendPoint := func(point string) {
		trimmed := strings.TrimSpace(point)
		if trimmed == "" {
			return
		}
		key := embedding.NormalizeText(trimmed)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, trimmed)
	}

	for _, point := range existing {
		appendPoint(point)
	}
	for _, point := range incoming {
		appendPoint(point)
	}

	return capKeyPoints(merged, limit)
}

// capKeyPoints keeps the most recent limit entries of an oldest-first list.
func capKeyPoints(points []string, limit int) []string {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	return points[len(points)-limit:]
}
