// Package material implements the local footage tag index and the hybrid
// local/remote material resolver.
//
// Local footage follows the naming convention
//
//	<display name>(<tag1>,<tag2>,...).<ext>
//
// Tags are taken from a parenthesized group that closes the name. The group
// holds no ')' and is preceded by at least one character. Both the ASCII
// comma and the fullwidth comma separate tags.
package material

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	fullwidthComma   = '，'
	asciiComma       = ','
	emptyDisplayName = ""
)

var tagGroupPattern = regexp.MustCompile(`^(.+?)\(([^)]+)\)$`)

// ParseTags splits a file name (without directory) into its display name and
// its tag set. Tags are trimmed, lower-cased and deduplicated in first-seen
// order. A name that does not end in a tag group yields no tags and keeps
// the whole name, so "x(a(b),c).mp4" has no tags.
func ParseTags(filename string) (string, []string) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	groups := tagGroupPattern.FindStringSubmatch(base)
	if groups == nil {
		return base, nil
	}

	name := strings.TrimSpace(groups[1])
	if name == emptyDisplayName {
		name = base
	}

	return name, splitTags(groups[2])
}

func splitTags(group string) []string {
	fields := strings.FieldsFunc(group, func(r rune) bool {
		return r == asciiComma || r == fullwidthComma
	})

	seen := make(map[string]struct{}, len(fields))
	tags := make([]string, 0, len(fields))

	for _, field := range fields {
		tag := strings.ToLower(strings.TrimSpace(field))
		if tag == "" {
			continue
		}

		if _, dup := seen[tag]; dup {
			continue
		}

		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	if len(tags) == 0 {
		return nil
	}

	return tags
}
