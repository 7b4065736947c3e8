// Package privacy detects and redacts PII, audits privacy-relevant events to
// an append-only JSONL log, and gates outbound tool calls behind an explicit
// policy. Detection is pure and deterministic so redaction can be replayed.
package privacy

import (
	"regexp"
	"sort"
	"strings"
)

// Mode selects the redaction style.
type Mode string

const (
	// ModePartial keeps non-identifying fragments, e.g. the email domain.
	ModePartial Mode = "partial"
	// ModeStrict replaces every match with a uniform token.
	ModeStrict Mode = "strict"
	// ModeDetect scans and reports matches but leaves the text unchanged.
	ModeDetect Mode = "detect"
	// ModeOff skips the scan entirely.
	ModeOff Mode = "off"
)

// PII type labels.
const (
	TypeEmail       = "email"
	TypePhone       = "phone"
	TypeSSN         = "ssn"
	TypeCreditCard  = "credit_card"
	TypeIPAddress   = "ip_address"
	TypeAPIKey      = "api_key"
	TypePassword    = "password"
	TypeBearerToken = "bearer_token"
)

type (
	// Match is one detected PII span.
	Match struct {
		Type  string `json:"type"`
		Start int    `json:"start"`
		End   int    `json:"end"`
		Value string `json:"-"`
	}

	// Result is the outcome of a Redact call.
	Result struct {
		Original    string  `json:"-"`
		Redacted    string  `json:"redacted"`
		Matches     []Match `json:"matches"`
		PIIDetected bool    `json:"pii_detected"`
	}

	// Redactor detects and removes PII from free text.
	Redactor struct{}

	detector struct {
		piiType string
		re      *regexp.Regexp
		// group selects the capture group that holds the PII value; 0
		// means the whole match.
		group int
		// digitBounded rejects matches adjacent to more digits, so a
		// phone pattern cannot fire inside a longer number.
		digitBounded bool
		// keyword, when set, requires this pattern within the 40 chars
		// preceding the match (contextual detectors).
		keyword *regexp.Regexp
		// validate optionally rejects a candidate value.
		validate func(string) bool
	}
)

var detectors = []detector{
	{
		piiType: TypeEmail,
		re:      regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		piiType:      TypePhone,
		re:           regexp.MustCompile(`\+?1[-.\s]\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}|\(\d{3}\)\s?\d{3}[-.]?\d{4}|\d{3}[-.]\d{3}[-.]\d{4}`),
		digitBounded: true,
	},
	{
		piiType:      TypeSSN,
		re:           regexp.MustCompile(`\d{3}-\d{2}-\d{4}`),
		digitBounded: true,
	},
	{
		piiType:      TypeCreditCard,
		re:           regexp.MustCompile(`[3-6]\d{12,15}`),
		digitBounded: true,
		validate:     luhnValid,
	},
	{
		piiType:      TypeIPAddress,
		re:           regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`),
		digitBounded: true,
		validate:     validIPv4,
	},
	{
		piiType: TypeBearerToken,
		re:      regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9\-._~+/]{8,}=*)`),
		group:   1,
	},
	{
		piiType: TypePassword,
		re:      regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[:=]\s*(\S+)`),
		group:   1,
	},
	{
		piiType: TypeAPIKey,
		re:      regexp.MustCompile(`\b[A-Za-z0-9_\-]{20,}\b`),
		keyword: regexp.MustCompile(`(?i)api[\s_\-]?key|secret|token`),
	},
}

// NewRedactor constructs a Redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Detect returns all PII matches in text, sorted by start offset. Spans are
// non-overlapping; when detectors overlap the earlier (then longer) match
// wins.
func (r *Redactor) Detect(text string) []Match {
	var candidates []Match
	for _, d := range detectors {
		idx := d.re.FindAllStringSubmatchIndex(text, -1)
		for _, loc := range idx {
			start, end := loc[2*d.group], loc[2*d.group+1]
			if start < 0 {
				continue
			}
			if d.digitBounded && !digitBounded(text, start, end) {
				continue
			}
			value := text[start:end]
			if d.validate != nil && !d.validate(value) {
				continue
			}
			if d.keyword != nil && !keywordNearby(text, start, d.keyword) {
				continue
			}
			if alreadyRedacted(text, start, value) {
				continue
			}
			candidates = append(candidates, Match{Type: d.piiType, Start: start, End: end, Value: value})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})
	var out []Match
	lastEnd := -1
	for _, m := range candidates {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}

// Redact replaces every detected span. Replacement proceeds rightmost-first
// so earlier offsets stay valid. Redacted output is closed: running Redact
// on it again changes nothing. ModeOff returns the text unscanned; ModeDetect
// scans but replaces nothing.
func (r *Redactor) Redact(text string, mode Mode) Result {
	if mode == ModeOff {
		return Result{Original: text, Redacted: text}
	}
	matches := r.Detect(text)
	redacted := text
	if mode != ModeDetect {
		for i := len(matches) - 1; i >= 0; i-- {
			m := matches[i]
			redacted = redacted[:m.Start] + replacement(m, mode) + redacted[m.End:]
		}
	}
	return Result{
		Original:    text,
		Redacted:    redacted,
		Matches:     matches,
		PIIDetected: len(matches) > 0,
	}
}

// Types returns the sorted unique PII type labels of matches.
func Types(matches []Match) []string {
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m.Type] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func replacement(m Match, mode Mode) string {
	if mode == ModePartial && m.Type == TypeEmail {
		if at := strings.LastIndexByte(m.Value, '@'); at >= 0 {
			return "[REDACTED_EMAIL]" + m.Value[at:]
		}
	}
	return "[REDACTED:" + strings.ToUpper(m.Type) + "]"
}

// alreadyRedacted keeps redaction closed: output tokens like
// `[REDACTED:PASSWORD]` or `[REDACTED_EMAIL]@domain` must not trigger
// detectors on a second pass.
func alreadyRedacted(text string, start int, value string) bool {
	if strings.HasPrefix(value, "[REDACTED") {
		return true
	}
	return strings.HasPrefix(value, "REDACTED") && start > 0 && text[start-1] == '['
}

func digitBounded(text string, start, end int) bool {
	if start > 0 && isDigit(text[start-1]) {
		return false
	}
	if end < len(text) && isDigit(text[end]) {
		return false
	}
	return true
}

func keywordNearby(text string, start int, keyword *regexp.Regexp) bool {
	from := start - 40
	if from < 0 {
		from = 0
	}
	return keyword.MatchString(text[from:start])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func luhnValid(value string) bool {
	sum := 0
	double := false
	for i := len(value) - 1; i >= 0; i-- {
		if !isDigit(value[i]) {
			return false
		}
		d := int(value[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validIPv4(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if len(part) == 0 || len(part) > 3 {
			return false
		}
		n := 0
		for i := 0; i < len(part); i++ {
			if !isDigit(part[i]) {
				return false
			}
			n = n*10 + int(part[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
