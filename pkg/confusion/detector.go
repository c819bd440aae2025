// Package confusion classifies follow-up messages that signal the user did
// not understand the previous answer.
package confusion

import (
	"regexp"
	"sort"
	"strings"
)

// statements are first-person confusion and count anywhere in the text.
var statements = []string{
	"i dont understand",
	"i do not understand",
	"i dont get it",
	"i do not get it",
	"i still dont get",
	"i didnt understand",
	"i did not understand",
	"i am confused",
	"im confused",
	"im so confused",
	"im still confused",
	"you lost me",
	"no idea what you mean",
}

// fragments only count when everything else in the message is filler, so
// "simplify that" is confusion but "how do i simplify fractions" is not.
var fragments = []string{
	"dont get it",
	"didnt understand",
	"did not understand",
	"dont understand",
	"not understanding",
	"that is confusing",
	"thats confusing",
	"this is confusing",
	"so confusing",
	"confusing",
	"confused",
	"what does that mean",
	"what does this mean",
	"what do you mean",
	"too complicated",
	"too complex",
	"too hard",
	"too technical",
	"makes no sense",
	"doesnt make sense",
	"does not make sense",
	"im lost",
	"i am lost",
	"lost me",
	"over my head",
	"explain it simpler",
	"explain simpler",
	"explain it again",
	"explain that again",
	"say that again",
	"in simpler terms",
	"simpler",
	"simplify",
	"dumb it down",
	"like im five",
	"like i am five",
	"eli5",
	"can you rephrase",
	"rephrase",
	"what",
	"huh",
	"wut",
	"wat",
}

var filler = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields("please pls plz again a bit little more for me now that this it its thats is was way " +
		"one sorry ok okay so um uh hmm can could would you just by to still really lol but and all of any") {
		filler[w] = struct{}{}
	}
	// Longest first so "explain it simpler" is removed before "simpler".
	sort.SliceStable(fragments, func(i, j int) bool { return len(fragments[i]) > len(fragments[j]) })
}

var (
	nonWord    = regexp.MustCompile(`[^a-z0-9 ]+`)
	spaces     = regexp.MustCompile(`\s+`)
	repeatedHs = regexp.MustCompile(`^h+u+h+$`)
)

// Normalize lowercases text, unifies apostrophes and strips punctuation.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = strings.NewReplacer("’", "", "‘", "", "'", "", "`", "").Replace(text)
	text = nonWord.ReplaceAllString(text, " ")
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsConfused reports whether text signals confusion about a previous answer.
func IsConfused(text string) bool {
	_, ok := Match(text)
	return ok
}

// Match returns the phrase that classified text as confused.
func Match(text string) (string, bool) {
	norm := Normalize(text)
	if norm == "" {
		return "", false
	}
	if repeatedHs.MatchString(norm) {
		return "huh", true
	}
	padded := " " + norm + " "
	for _, phrase := range statements {
		if strings.Contains(padded, " "+phrase+" ") {
			return phrase, true
		}
	}

	matched := ""
	rest := padded
	for _, phrase := range fragments {
		needle := " " + phrase + " "
		if !strings.Contains(rest, needle) {
			continue
		}
		if matched == "" {
			matched = phrase
		}
		for strings.Contains(rest, needle) {
			rest = strings.Replace(rest, needle, " ", 1)
		}
	}
	if matched == "" {
		return "", false
	}
	for _, w := range strings.Fields(rest) {
		if _, ok := filler[w]; !ok {
			return "", false
		}
	}
	return matched, true
}
