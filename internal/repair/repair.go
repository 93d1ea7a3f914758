// Package repair post-processes completions that were cut off before a
// natural end of turn, trimming them back to a clean sentence boundary.
// It never adds text: an unterminated fragment with no usable boundary is
// returned unchanged.
package repair

import "strings"

// DefaultAbbreviations are terminator-bearing words that do not end a
// sentence.
var DefaultAbbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.", "sr.", "jr.",
	"vs.", "etc.", "e.g.", "i.e.",
	"inc.", "ltd.", "corp.", "llc.", "co.",
}

// DefaultDanglingTokens are trailing words that mark a sentence as
// incomplete.
var DefaultDanglingTokens = []string{
	"and", "but", "or", "nor", "for", "yet", "so",
	"with", "to", "in", "at", "by",
	",", ", and", ", or",
}

// Repairer holds the word lists the repair pass consults.
type Repairer struct {
	abbreviations map[string]struct{}
	dangling      []string
}

// New builds a Repairer. Empty slices select the built-in defaults.
func New(abbreviations, dangling []string) *Repairer {
	if len(abbreviations) == 0 {
		abbreviations = DefaultAbbreviations
	}
	if len(dangling) == 0 {
		dangling = DefaultDanglingTokens
	}
	abbr := make(map[string]struct{}, len(abbreviations))
	for _, a := range abbreviations {
		abbr[strings.ToLower(a)] = struct{}{}
	}
	return &Repairer{abbreviations: abbr, dangling: dangling}
}

// Repair trims a truncated completion back to its last complete sentence.
// Idempotent: repairing an already repaired string changes nothing. The
// result is never longer than the input.
func (r *Repairer) Repair(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return text
	}

	// Split at valid sentence terminators; a trailing unterminated
	// remainder is kept as a final partial sentence.
	var sentences []string
	lastEnd := 0
	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) || !r.isSentenceEnd(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[lastEnd : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		lastEnd = i + 1
	}
	if rem := strings.TrimSpace(text[lastEnd:]); rem != "" {
		sentences = append(sentences, rem)
	}
	if len(sentences) == 0 {
		return text
	}
	out := strings.Join(sentences, " ")

	// A short fragment after the final period is stray output; drop it when
	// the period sits past the 75% mark. Only applies to strings with no
	// terminator at the end at all, so a clean "...! " ending is never cut
	// back to an earlier period.
	if i := strings.LastIndexByte(out, '.'); i >= 0 && !isTerminator(out[len(out)-1]) && i > len(out)*3/4 {
		out = out[:i+1]
	}

	if r.endsIncomplete(out) {
		// Truncate at the last terminator not followed by a dangling word.
		last := -1
		for i := 0; i < len(out); i++ {
			if !isTerminator(out[i]) {
				continue
			}
			after := strings.Fields(strings.ToLower(out[i+1:]))
			if len(after) == 0 || !r.isDangling(after[0]) {
				last = i
			}
		}
		if last >= 0 {
			out = strings.TrimSpace(out[:last+1])
		}
	}
	return out
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// isSentenceEnd reports whether the terminator at index i really ends a
// sentence: not part of a known abbreviation, not a decimal point, and not
// mid-token punctuation.
func (r *Repairer) isSentenceEnd(text string, i int) bool {
	start := i
	for start > 0 && !isSpaceByte(text[start-1]) {
		start--
	}
	if _, ok := r.abbreviations[strings.ToLower(text[start:i+1])]; ok {
		return false
	}
	if text[i] == '.' && i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1]) {
		return false
	}
	if i+1 < len(text) && !isSpaceByte(text[i+1]) {
		return false
	}
	return true
}

// endsIncomplete reports whether the string lacks a terminal punctuation
// mark or trails off on a dangling conjunction or preposition.
func (r *Repairer) endsIncomplete(s string) bool {
	t := strings.TrimRight(s, " \t\n\r")
	if t == "" {
		return false
	}
	if !isTerminator(t[len(t)-1]) {
		return true
	}
	words := strings.Fields(strings.ToLower(t))
	lastWord := words[len(words)-1]
	for _, d := range r.dangling {
		if strings.HasSuffix(lastWord, d) {
			return true
		}
	}
	return false
}

func (r *Repairer) isDangling(word string) bool {
	for _, d := range r.dangling {
		if word == d {
			return true
		}
	}
	return false
}
