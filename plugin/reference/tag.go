package reference

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	MinTagLength = 3
	// maxGeneratedTagLength bounds tags derived from free-form names.
	maxGeneratedTagLength = 20
)

var (
	ErrInvalidTag = errors.New("invalid reference tag")

	tagRegexp      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	untaggableRune = regexp.MustCompile(`[^a-z0-9]`)
)

// ValidateTag checks that tag can be mentioned as @tag.
func ValidateTag(tag string) error {
	if len(tag) < MinTagLength {
		return errors.Wrapf(ErrInvalidTag, "tag %q must be at least %d characters long", tag, MinTagLength)
	}
	if !tagRegexp.MatchString(tag) {
		return errors.Wrapf(ErrInvalidTag, "tag %q may only contain letters, digits, _ and -", tag)
	}
	return nil
}

// UniqueTag turns a free-form name into a tag that does not collide with existing
// (compared case-insensitively). Collisions get a numeric suffix starting at 1.
func UniqueTag(name string, existing []string) string {
	clean := untaggableRune.ReplaceAllString(strings.ToLower(name), "")
	if len(clean) > maxGeneratedTagLength {
		clean = clean[:maxGeneratedTagLength]
	}
	taken := make(map[string]bool, len(existing))
	for _, tag := range existing {
		taken[strings.ToLower(tag)] = true
	}
	if !taken[clean] {
		return clean
	}
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s%d", clean, counter)
		if !taken[candidate] {
			return candidate
		}
	}
}

// DisplayName derives a human readable name from a tag, e.g. "john_style" -> "John Style".
func DisplayName(tag string) string {
	words := strings.FieldsFunc(tag, func(r rune) bool { return r == '_' || r == '-' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}
