package flow

import (
	"regexp"
	"strings"
)

// LoadMore is the preference option that reveals additional options in place.
const LoadMore = "load_more"

var specialLabels = map[string]string{
	LoadMore:       "Load more options",
	"myself":       "For myself",
	"others":       "For someone else",
	"browsing":     "Just browsing",
	"non_fiction":  "Non-fiction",
	"just_because": "Just because",
	"thank_you":    "Thank you",
}

var (
	tokenPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
	underPattern = regexp.MustCompile(`^under_(\d+)$`)
	overPattern  = regexp.MustCompile(`^over_(\d+)$`)
	rangePattern = regexp.MustCompile(`^(\d+)_to_(\d+)$`)
)

// FormatLabel turns a flow token into a display label. It never fails:
// strings that are not flow tokens are returned unchanged.
func FormatLabel(token string) string {
	if label, ok := specialLabels[token]; ok {
		return label
	}
	if !tokenPattern.MatchString(token) {
		return token
	}
	if m := underPattern.FindStringSubmatch(token); m != nil {
		return "Under $" + m[1]
	}
	if m := overPattern.FindStringSubmatch(token); m != nil {
		return "Over $" + m[1]
	}
	if m := rangePattern.FindStringSubmatch(token); m != nil {
		return "$" + m[1] + " - $" + m[2]
	}

	words := strings.Split(token, "_")
	out := words[:0]
	for _, w := range words {
		if w == "" {
			continue
		}
		out = append(out, strings.ToUpper(w[:1])+w[1:])
	}
	if len(out) == 0 {
		return token
	}
	return strings.Join(out, " ")
}

// IsToken reports whether s is a well-formed flow token.
func IsToken(s string) bool {
	return tokenPattern.MatchString(s)
}
