package pipeline

import (
	"strings"
	"unicode"
)

// DefaultFileName is used when nothing usable is left of a code
const DefaultFileName = "sheet"

// MakeSafeFileName replaces characters that are not allowed in file names
// on common filesystems with '_'.
func MakeSafeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultFileName
	}

	safe := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)

	safe = strings.Trim(safe, ". ")
	if safe == "" {
		return DefaultFileName
	}
	return safe
}
