package track

import (
	"regexp"
	"strings"
)

var (
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[][^\)\]]*remaster[^\)\]]*[\)\]]`),       // "(Remastered 2011)", "[2009 Remaster]"
		regexp.MustCompile(`\s+-\s+(\d{4}\s+)?remaster(ed)?(\s+\d{4})?.*$`), // "- 2011 Remaster", "- Remastered 2015"
		regexp.MustCompile(`\s*[\(\[][^\)\]]*\b(version|edit|mix|mono|stereo)[\)\]]`),
		regexp.MustCompile(`\s+-\s+.*\b(version|edit|mono|stereo)$`), // "- Radio Edit", "- Single Version"
		regexp.MustCompile(`\s*[\(\[]live\b[^\)\]]*[\)\]]`),          // "(Live)", "[Live at Leeds]"
		regexp.MustCompile(`\s+-\s+live\b.*$`),                       // "- Live at Wembley"
	}
	spacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases a track title and strips remaster and version
// suffixes so that re-releases of the same recording compare equal.
func NormalizeTitle(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, p := range versionPatterns {
		normalized = p.ReplaceAllString(normalized, "")
	}
	normalized = spacePattern.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// SameRecording reports whether two tracks are the same song by the same main
// artist, treating remasters and edits as equal. Covers are different songs.
func SameRecording(a, b Track) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	if NormalizeTitle(a.Name) != NormalizeTitle(b.Name) {
		return false
	}
	if len(a.Artists) == 0 || len(b.Artists) == 0 {
		return false
	}
	return strings.EqualFold(a.Artists[0], b.Artists[0])
}
