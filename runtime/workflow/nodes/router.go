package nodes

import (
	"context"
	"strings"
)

// Keyword tables are checked in fixed order so classification is
// deterministic for any input.
var (
	fileOpsKeywords = []string{
		"file", "files", "directory", "folder", "read", "write",
		"delete", "list", "path", "save", "rename",
	}
	codeKeywords = []string{
		"code", "function", "bug", "compile", "implement", "refactor",
		"script", "debug", "program", "test", "golang", "python",
	}
	researchKeywords = []string{
		"search", "research", "look up", "lookup", "latest", "news",
		"web", "find out",
	}
)

// Router classifies the user input into one of the four intents. The
// classifier is a pure keyword matcher; the same input always yields the
// same intent.
type Router struct{}

// NewRouter constructs a Router.
func NewRouter() *Router { return &Router{} }

func (r *Router) ID() string   { return "router" }
func (r *Router) Type() string { return "router" }

// Run sets s.Intent.
func (r *Router) Run(_ context.Context, s *State) {
	s.Intent = Classify(s.UserInput)
}

// Classify maps text to an intent. Intent checks run in fixed priority
// order: file_ops, code, research, then the chat fallback.
func Classify(input string) string {
	folded := strings.ToLower(input)
	if containsAny(folded, fileOpsKeywords) {
		return IntentFileOps
	}
	if containsAny(folded, codeKeywords) {
		return IntentCode
	}
	if containsAny(folded, researchKeywords) {
		return IntentResearch
	}
	return IntentChat
}

func containsAny(folded string, keywords []string) bool {
	for _, kw := range keywords {
		if containsWord(folded, kw) {
			return true
		}
	}
	return false
}

// containsWord matches kw at word boundaries so "file" does not fire on
// "profile". Multi-word keywords match as substrings.
func containsWord(folded, kw string) bool {
	if strings.Contains(kw, " ") {
		return strings.Contains(folded, kw)
	}
	idx := 0
	for {
		i := strings.Index(folded[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordByte(folded[start-1])
		afterOK := end == len(folded) || !isWordByte(folded[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
