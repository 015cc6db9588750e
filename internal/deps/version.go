package deps

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrVersionParse = errors.New("no version token in probe output")

// ParseError is returned when probe output carries no dotted-numeric version.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse version from %q: no dotted numeric token", e.Input)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrVersionParse
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)+`)

// Version is a major.minor[.patch] triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast compares (major, minor) lexicographically against required.
func (v Version) AtLeast(required Version) bool {
	if v.Major != required.Major {
		return v.Major > required.Major
	}
	return v.Minor >= required.Minor
}

// ExtractVersion finds the first dotted-numeric token in text.
func ExtractVersion(text string) (Version, error) {
	token := versionPattern.FindString(text)
	if token == "" {
		return Version{}, &ParseError{Input: strings.TrimSpace(text)}
	}
	parts := strings.Split(token, ".")
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return Version{}, &ParseError{Input: strings.TrimSpace(text)}
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}
