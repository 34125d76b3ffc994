package firmware

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a firmware version like "2024.10.1" or "v1.2.3-beta.1"
type Version struct {
	Parts      [3]int
	Prerelease string
}

// ParseVersion parses up to three dot separated numbers with an optional v prefix and -prerelease suffix
func ParseVersion(s string) (Version, error) {
	var v Version

	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	core, pre, _ := strings.Cut(s, "-")
	v.Prerelease = pre

	nums := strings.Split(core, ".")
	if core == "" || len(nums) > 3 {
		return v, fmt.Errorf("invalid version format: %q", s)
	}
	for i, n := range nums {
		x, err := strconv.Atoi(n)
		if err != nil || x < 0 {
			return v, fmt.Errorf("invalid version component %q", n)
		}
		v.Parts[i] = x
	}
	return v, nil
}

// Compare returns -1, 0 or 1. A release sorts after its prereleases.
func (v Version) Compare(other Version) int {
	for i := range v.Parts {
		switch {
		case v.Parts[i] < other.Parts[i]:
			return -1
		case v.Parts[i] > other.Parts[i]:
			return 1
		}
	}

	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}

// String returns the version without the v prefix
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Parts[0], v.Parts[1], v.Parts[2])
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// IsDev reports whether version is a development build, which accepts any upload
func IsDev(version string) bool {
	return version == "" || version == "dev"
}

// IsNewer reports whether candidate is newer than current
func IsNewer(current, candidate string) (bool, error) {
	if IsDev(current) {
		return true, nil
	}
	cur, err := ParseVersion(current)
	if err != nil {
		return false, fmt.Errorf("parse current version: %w", err)
	}
	next, err := ParseVersion(candidate)
	if err != nil {
		return false, fmt.Errorf("parse candidate version: %w", err)
	}
	return cur.Compare(next) < 0, nil
}
