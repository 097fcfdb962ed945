package policy

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sweeney/relay-agent/internal/relay"
)

const (
	preferenceWeight = 2
	patternWeight    = 1
)

var negativeWords = []string{"off", "not", "no", "avoid", "least", "unused", "never", "skip"}

// Rank orders relays by priority derived from the operator's preference text
// and the forecast's usage pattern summary.
//
// A relay is mentioned by its display name or as "relay N" / "switch N".
// Preference mentions weigh more than pattern mentions; a mention inside a
// clause with a negative word counts against the relay. Ties go to the
// earliest preference mention, then to the lower id. With no text at all
// the order is ascending id.
func Rank(relays []relay.State, preferences, pattern string) []relay.ID {
	type ranked struct {
		id    relay.ID
		score int
		first int
	}

	prefClauses := clauses(preferences)
	patClauses := clauses(pattern)

	out := make([]ranked, 0, len(relays))
	for _, r := range relays {
		aliases := aliasesFor(r)
		ps, first := scoreClauses(prefClauses, aliases)
		qs, _ := scoreClauses(patClauses, aliases)
		out = append(out, ranked{
			id:    r.ID,
			score: ps*preferenceWeight + qs*patternWeight,
			first: first,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.first != b.first {
			return a.first < b.first
		}
		return a.id < b.id
	})

	ids := make([]relay.ID, len(out))
	for i, r := range out {
		ids[i] = r.id
	}
	return ids
}

type clause struct {
	text   string
	offset int
}

// clauses splits lowercased text on sentence punctuation and " but ".
func clauses(text string) []clause {
	text = strings.ToLower(text)
	var out []clause
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, clause{text: text[start:end], offset: start})
		}
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', ',', ';', '!', '?', '\n':
			flush(i)
			start = i + 1
		case ' ':
			if strings.HasPrefix(text[i:], " but ") {
				flush(i)
				start = i + len(" but ")
				i = start - 1
			}
		}
	}
	flush(len(text))
	return out
}

func aliasesFor(r relay.State) []string {
	n := strconv.Itoa(int(r.ID))
	aliases := []string{"relay " + n, "switch " + n, "relay #" + n, "switch #" + n}
	if name := strings.ToLower(strings.TrimSpace(r.Name)); name != "" && name != strings.ToLower(relay.DefaultName(r.ID)) {
		aliases = append(aliases, name)
	}
	return aliases
}

// scoreClauses returns the signed mention count and the offset of the first
// mention (math.MaxInt when never mentioned).
func scoreClauses(cs []clause, aliases []string) (score, first int) {
	first = math.MaxInt
	for _, c := range cs {
		pos := -1
		for _, a := range aliases {
			if i := indexWord(c.text, a); i >= 0 && (pos < 0 || i < pos) {
				pos = i
			}
		}
		if pos < 0 {
			continue
		}
		if c.offset+pos < first {
			first = c.offset + pos
		}
		if isNegative(c.text) {
			score--
		} else {
			score++
		}
	}
	return score, first
}

func isNegative(text string) bool {
	for _, w := range negativeWords {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	return indexWord(text, word) >= 0
}

// indexWord finds word in text at word boundaries, so "switch 1" does not
// match "switch 10" and "no" does not match "noon".
func indexWord(text, word string) int {
	if word == "" {
		return -1
	}
	from := 0
	for {
		i := strings.Index(text[from:], word)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(word)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return i
		}
		from = i + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func sortIDs(ids []relay.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
