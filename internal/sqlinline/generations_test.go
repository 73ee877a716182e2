package sqlinline

import (
	"regexp"
	"strings"
	"testing"
)

var markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestQueriesCarryMarker(t *testing.T) {
	queries := map[string]string{
		"QInsertGeneration": QInsertGeneration,
	}
	seen := map[string]string{}
	for name, q := range queries {
		first, _, _ := strings.Cut(q, "\n")
		if !markerPattern.MatchString(first) {
			t.Fatalf("%s: first line %q is not a --sql marker", name, first)
		}
		if prev, ok := seen[first]; ok {
			t.Fatalf("%s reuses the marker of %s", name, prev)
		}
		seen[first] = name
	}
}

func TestInsertGenerationPlaceholders(t *testing.T) {
	for i := 1; i <= 9; i++ {
		if !strings.Contains(QInsertGeneration, "$"+string(rune('0'+i))) {
			t.Fatalf("placeholder $%d missing", i)
		}
	}
	if strings.Contains(QInsertGeneration, "$10") {
		t.Fatalf("unexpected placeholder $10")
	}
}
