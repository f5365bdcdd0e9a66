package embedding

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/aaaton/golem/v4"
	"github.com/aaaton/golem/v4/dicts/en"
)

// Tokenizer splits text into the terms used for weighting.
type Tokenizer interface {
	// Name identifies the tokenization pipeline; it is persisted with trained
	// models so a model is never queried through a different pipeline.
	Name() string
	Tokenize(text string) []string
}

// Lemmatizer maps a word to its dictionary form.
type Lemmatizer interface {
	Lemma(word string) string
}

// LemmaTokenizer lower-cases text, splits it on whitespace, punctuation and
// symbols, discards tokens that are not purely alphabetic and lemmatizes the rest.
// Apostrophes inside a word do not split it: contractions keep their stem
// ("don't" is "do", "author's" is "author") and drop the clitic.
type LemmaTokenizer struct {
	lemmatizer Lemmatizer
	name       string
}

// NewTokenizer returns a LemmaTokenizer using the given lemmatizer.
// A nil lemmatizer leaves words unchanged.
func NewTokenizer(name string, l Lemmatizer) *LemmaTokenizer {
	if l == nil {
		l = identityLemmatizer{}
	}
	return &LemmaTokenizer{lemmatizer: l, name: name}
}

var (
	englishOnce sync.Once
	englishLem  *golem.Lemmatizer
	englishErr  error
)

// NewEnglishTokenizer returns a LemmaTokenizer backed by the golem English
// dictionary. The dictionary is loaded once per process and is read-only.
func NewEnglishTokenizer() (*LemmaTokenizer, error) {
	englishOnce.Do(func() {
		englishLem, englishErr = golem.New(en.New())
	})
	if englishErr != nil {
		return nil, fmt.Errorf("loading english lemmatizer: %w", englishErr)
	}
	return NewTokenizer("golem-en", englishLem), nil
}

// Name implements Tokenizer.
func (t *LemmaTokenizer) Name() string { return t.name }

// Tokenize implements Tokenizer.
func (t *LemmaTokenizer) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	out := fields[:0]
	for _, f := range fields {
		f = stripClitic(f)
		if !isAlpha(f) {
			continue
		}
		lemma := strings.ToLower(t.lemmatizer.Lemma(f))
		if lemma == "" || !isAlpha(lemma) {
			lemma = f
		}
		out = append(out, lemma)
	}
	return out
}

func isSeparator(r rune) bool {
	if isApostrophe(r) {
		return false
	}
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

// clitics are the English contraction endings that follow an apostrophe.
var clitics = map[string]bool{"t": true, "s": true, "ll": true, "re": true, "ve": true, "d": true, "m": true}

// stripClitic removes quoting apostrophes and a trailing contraction, so
// "'word'" is "word", "we'll" is "we" and "can't" is "ca". Words with any
// other apostrophe are returned unchanged and fail the alphabetic filter.
func stripClitic(f string) string {
	f = strings.TrimFunc(f, isApostrophe)
	i := strings.LastIndexFunc(f, isApostrophe)
	if i < 0 {
		return f
	}
	_, size := utf8.DecodeRuneInString(f[i:])
	head, tail := f[:i], f[i+size:]
	if !clitics[tail] {
		return f
	}
	if tail == "t" {
		if len(head) < 2 || head[len(head)-1] != 'n' {
			return f
		}
		head = head[:len(head)-1]
	}
	return head
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

type identityLemmatizer struct{}

func (identityLemmatizer) Lemma(word string) string { return word }
