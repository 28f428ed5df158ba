// Package capitalize decides which recognizer tokens start with a capital
// letter and renders token sequences into display text.
package capitalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-captions/internal/stt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Capitalizer carries the sentence-start state across utterances. Each
// Decide call starts from the state committed by the last finalized
// utterance, so partial revisions never leak into the next sentence.
// It is not safe for concurrent use.
type Capitalizer struct {
	committed bool
	pending   bool

	tag     language.Tag
	english bool
	lower   cases.Caser
	upper   cases.Caser
}

// New returns a capitalizer for the given BCP 47 language tag.
func New(lang string) *Capitalizer {
	c := &Capitalizer{}
	c.SetLanguage(lang)
	return c
}

// SetLanguage switches the casing rules. Unknown tags fall back to
// language-neutral rules.
func (c *Capitalizer) SetLanguage(lang string) {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.Und
	}
	base, conf := tag.Base()
	c.tag = tag
	c.english = conf == language.Exact && base.String() == "en"
	c.lower = cases.Lower(tag)
	c.upper = cases.Upper(tag)
}

// Language returns the active tag.
func (c *Capitalizer) Language() string {
	return c.tag.String()
}

// Decide reports, per token, whether its first cased letter must be
// upper-cased. The next token is consulted for pronoun and decimal-point
// handling.
func (c *Capitalizer) Decide(tokens []stt.Token) []bool {
	out := make([]bool, len(tokens))
	sentenceStart := c.committed
	for i, tok := range tokens {
		var next *stt.Token
		if i+1 < len(tokens) {
			next = &tokens[i+1]
		}
		word := strings.TrimSpace(tok.Text)

		if tok.Flags.Has(stt.FlagCapitalize) {
			out[i] = true
		}
		if sentenceStart && hasLetter(word) {
			out[i] = true
			sentenceStart = false
		}
		if c.english && isPronounI(word) && (endsWord(next) || startsContraction(next)) {
			out[i] = true
		}
		if endsSentence(tok, word, next) {
			sentenceStart = true
		}
	}
	c.pending = sentenceStart
	return out
}

// Commit adopts the state reached by the last Decide call. Call it once the
// utterance is final.
func (c *Capitalizer) Commit() {
	c.committed = c.pending
}

// Reset forgets sentence state, e.g. after a model swap.
func (c *Capitalizer) Reset() {
	c.committed = false
	c.pending = false
}

// Render returns one display piece per token, including the separating
// space where one belongs. When lowercase is false token bytes are kept
// as-is apart from newline replacement.
func (c *Capitalizer) Render(tokens []stt.Token, decisions []bool, lowercase bool) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		text := newlines.Replace(tok.Text)
		if lowercase {
			text = c.fold(text, i < len(decisions) && decisions[i])
		}
		if i > 0 && needsSpace(tok, text) {
			text = " " + text
		}
		out[i] = text
	}
	return out
}

func (c *Capitalizer) fold(text string, capitalize bool) string {
	lowered := c.lower.String(text)
	if !capitalize {
		return lowered
	}
	for i, r := range lowered {
		if unicode.ToUpper(r) == r && unicode.ToTitle(r) == r {
			continue
		}
		size := utf8.RuneLen(r)
		return lowered[:i] + c.upper.String(lowered[i:i+size]) + lowered[i+size:]
	}
	return lowered
}

// Join concatenates rendered pieces.
func Join(pieces []string) string {
	return strings.Join(pieces, "")
}

func needsSpace(tok stt.Token, text string) bool {
	if text == "" || tok.Flags.Has(stt.FlagContinuation) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text)
	if unicode.IsSpace(first) {
		return false
	}
	return !isPunctuation(text)
}

func endsWord(next *stt.Token) bool {
	return next == nil || !next.Flags.Has(stt.FlagContinuation)
}

func endsSentence(tok stt.Token, word string, next *stt.Token) bool {
	if tok.Flags.Has(stt.FlagSentenceEnd) {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(word)
	switch last {
	case '.':
		if next != nil && next.Flags.Has(stt.FlagContinuation) {
			first, _ := utf8.DecodeRuneInString(strings.TrimSpace(next.Text))
			if unicode.IsDigit(first) {
				return false
			}
		}
		return true
	case '?', '!', '。', '？', '！':
		return true
	}
	return false
}

func startsContraction(next *stt.Token) bool {
	if next == nil {
		return false
	}
	text := strings.TrimSpace(next.Text)
	return strings.HasPrefix(text, "'") || strings.HasPrefix(text, "’")
}

func isPronounI(word string) bool {
	lowered := strings.ToLower(word)
	return lowered == "i" || strings.HasPrefix(lowered, "i'") || strings.HasPrefix(lowered, "i’")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) {
			return false
		}
	}
	return s != ""
}
