package passwd

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Policy configures password acceptance checks.
type Policy struct {
	// MinLength is the minimum length after whitespace collapsing.
	MinLength int
	// MaxSimilarity is the maximum allowed fuzzy-match ratio (0..100)
	// between the candidate and the server hostname or the account email.
	MaxSimilarity int
	// ServerHostname is the deployment's public hostname.
	ServerHostname string
}

// DefaultPolicy mirrors the served defaults: 12 characters minimum, 30%
// maximum similarity.
func DefaultPolicy(hostname string) Policy {
	return Policy{MinLength: 12, MaxSimilarity: 30, ServerHostname: hostname}
}

// Messages returned by Validate. Policy rejections carry specific corrective
// text since they leak nothing about account existence.
const (
	MsgTooShort     = "Your password is too short."
	MsgLikeHostname = "Your password is too similar to the server's hostname."
	MsgLikeEmail    = "Your password is too similar to your email address."
	MsgTooFewChars  = "Your password has too many repeated characters and is not complex enough."
	MsgAllDigits    = "Your password cannot be all numbers."
)

// Validate runs every policy check on the candidate and reports all
// violations. The final verdict is the AND of all checks; checks are never
// short-circuited.
func (p Policy) Validate(email, candidate string) (bool, []string) {
	candidate = Truncate(candidate)

	var messages []string

	// Collapse runs of whitespace and trim before the length check.
	collapsed := strings.TrimSpace(strings.Join(strings.Fields(candidate), " "))
	if len(collapsed) < p.MinLength {
		messages = append(messages, MsgTooShort)
	}

	if similarity(collapsed, p.ServerHostname) > p.MaxSimilarity {
		messages = append(messages, MsgLikeHostname)
	}

	if similarity(collapsed, email) > p.MaxSimilarity {
		messages = append(messages, MsgLikeEmail)
	}

	if dominatedBySingleChar(collapsed) {
		messages = append(messages, MsgTooFewChars)
	}

	if allDigits(collapsed) {
		messages = append(messages, MsgAllDigits)
	}

	return len(messages) == 0, messages
}

// similarity is a normalized fuzzy-match ratio in percent, computed case- and
// whitespace-insensitively with the Ratcliff/Obershelp metric.
func similarity(a, b string) int {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return int(m.Ratio() * 100)
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// dominatedBySingleChar reports whether any one case-folded character makes
// up more than 20% of the password.
func dominatedBySingleChar(s string) bool {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return false
	}

	counts := make(map[rune]int)
	for _, r := range runes {
		counts[r]++
	}

	for _, n := range counts {
		if n*100 > len(runes)*20 {
			return true
		}
	}
	return false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
