package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kongor-project/loginway/internal/patch"
)

// parseAllowedVersions parses the configured allow-list, each entry
// formatted "major.minor.patch.build", into GameVersions the Patcher can
// compare against.
func parseAllowedVersions(raw []string) ([]patch.GameVersion, error) {
	versions := make([]patch.GameVersion, 0, len(raw))
	for _, entry := range raw {
		v, err := parseGameVersion(entry)
		if err != nil {
			return nil, fmt.Errorf("allowed version %q: %w", entry, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func parseGameVersion(s string) (patch.GameVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return patch.GameVersion{}, fmt.Errorf("expected major.minor.patch.build, got %d fields", len(parts))
	}
	fields := make([]uint32, 4)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return patch.GameVersion{}, fmt.Errorf("field %d: %w", i, err)
		}
		fields[i] = uint32(n)
	}
	return patch.GameVersion{Major: fields[0], Minor: fields[1], Patch: fields[2], Build: fields[3]}, nil
}
