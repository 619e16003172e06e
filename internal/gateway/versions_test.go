package gateway

import (
	"testing"

	"github.com/kongor-project/loginway/internal/patch"
)

func TestParseAllowedVersionsParsesEachEntry(t *testing.T) {
	got, err := parseAllowedVersions([]string{"1.2.3.456", "1.2.3.789"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []patch.GameVersion{
		{Major: 1, Minor: 2, Patch: 3, Build: 456},
		{Major: 1, Minor: 2, Patch: 3, Build: 789},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d versions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestParseAllowedVersionsEmptyListIsEmptyNotNilError(t *testing.T) {
	got, err := parseAllowedVersions(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no versions, got %d", len(got))
	}
}

func TestParseAllowedVersionsRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseAllowedVersions([]string{"1.2.3"}); err == nil {
		t.Fatal("expected error for missing build field")
	}
}

func TestParseAllowedVersionsRejectsNonNumericField(t *testing.T) {
	if _, err := parseAllowedVersions([]string{"1.2.3.abc"}); err == nil {
		t.Fatal("expected error for non-numeric build field")
	}
}
