package updates

import (
	"strconv"
	"strings"
)

// IsNewer reports whether candidate is a later release than current. Versions
// are compared as major.minor.patch with an optional "v" prefix; pre-release
// and build suffixes are ignored. An empty or "dev" current version is always
// older.
func IsNewer(candidate, current string) bool {
	candidate, current = normalizeVersion(candidate), normalizeVersion(current)
	if current == "" || current == "dev" {
		return candidate != "" && candidate != "dev"
	}
	if candidate == "" || candidate == "dev" {
		return false
	}

	c, cur := parseSemver(candidate), parseSemver(current)
	for i := range c {
		if c[i] != cur[i] {
			return c[i] > cur[i]
		}
	}
	return false
}

func normalizeVersion(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// parseSemver returns [major, minor, patch]. Non-numeric segments count as 0.
func parseSemver(version string) [3]int {
	var parts [3]int
	if idx := strings.IndexAny(version, "-+"); idx != -1 {
		version = version[:idx]
	}

	segments := strings.Split(version, ".")
	for i := 0; i < len(parts) && i < len(segments); i++ {
		n, err := strconv.Atoi(segments[i])
		if err == nil {
			parts[i] = n
		}
	}
	return parts
}
