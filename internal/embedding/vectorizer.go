package embedding

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInconsistentState is returned when restored vectorizer state is invalid.
var ErrInconsistentState = errors.New("inconsistent vectorizer state")

// Vectorizer is a fitted tf-idf transform: a sorted vocabulary plus the
// document frequency of every term over the training corpus.
//
// Weights follow the usual smoothed formulation: tf is the raw term count,
// idf is ln((1+n)/(1+df)) + 1, and every vector is L2-normalised.
type Vectorizer struct {
	terms     []string
	docFreq   []int
	numDocs   int
	tokenizer Tokenizer

	vocab map[string]int
	idf   []float64
}

// FitTransform fits a vectorizer over docs and returns one vector per input
// document, in input order.
func FitTransform(tok Tokenizer, docs []string) (*Vectorizer, []SparseVector) {
	tokenized := make([][]string, len(docs))
	df := make(map[string]int)
	for i, text := range docs {
		tokens := tok.Tokenize(text)
		tokenized[i] = tokens
		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}

	// Stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	docFreq := make([]int, len(terms))
	for i, term := range terms {
		docFreq[i] = df[term]
	}

	v := &Vectorizer{terms: terms, docFreq: docFreq, numDocs: len(docs), tokenizer: tok}
	v.prepare()

	rows := make([]SparseVector, len(docs))
	for i, tokens := range tokenized {
		rows[i] = v.weigh(tokens)
	}
	return v, rows
}

// Restore rebuilds a vectorizer from persisted state.
func Restore(tok Tokenizer, terms []string, docFreq []int, numDocs int) (*Vectorizer, error) {
	if len(terms) != len(docFreq) {
		return nil, fmt.Errorf("%w: %d terms, %d frequencies", ErrInconsistentState, len(terms), len(docFreq))
	}
	for i := range terms {
		if i > 0 && terms[i-1] >= terms[i] {
			return nil, fmt.Errorf("%w: vocabulary not sorted at %d", ErrInconsistentState, i)
		}
		if docFreq[i] < 1 || docFreq[i] > numDocs {
			return nil, fmt.Errorf("%w: document frequency %d out of range for %q", ErrInconsistentState, docFreq[i], terms[i])
		}
	}
	v := &Vectorizer{
		terms:     append([]string(nil), terms...),
		docFreq:   append([]int(nil), docFreq...),
		numDocs:   numDocs,
		tokenizer: tok,
	}
	v.prepare()
	return v, nil
}

func (v *Vectorizer) prepare() {
	v.vocab = make(map[string]int, len(v.terms))
	v.idf = make([]float64, len(v.terms))
	n := float64(v.numDocs)
	for i, term := range v.terms {
		v.vocab[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(v.docFreq[i]))) + 1.0
	}
}

// Transform weighs text through the fitted vocabulary.
// Terms that were not seen during fitting are dropped.
func (v *Vectorizer) Transform(text string) SparseVector {
	return v.weigh(v.tokenizer.Tokenize(text))
}

func (v *Vectorizer) weigh(tokens []string) SparseVector {
	tf := make(map[int]int)
	for _, tok := range tokens {
		if idx, ok := v.vocab[tok]; ok {
			tf[idx]++
		}
	}
	if len(tf) == 0 {
		return SparseVector{}
	}

	indices := make([]int, 0, len(tf))
	for idx := range tf {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	var norm float64
	for k, idx := range indices {
		w := float64(tf[idx]) * v.idf[idx]
		values[k] = w
		norm += w * w
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for k := range values {
			values[k] /= norm
		}
	}
	return SparseVector{Indices: indices, Values: values}
}

// Terms returns the vocabulary in column order.
func (v *Vectorizer) Terms() []string { return v.terms }

// DocFreq returns the document frequency of every vocabulary term.
func (v *Vectorizer) DocFreq() []int { return v.docFreq }

// NumDocs returns the size of the training corpus.
func (v *Vectorizer) NumDocs() int { return v.numDocs }

// Dimension returns the vocabulary size.
func (v *Vectorizer) Dimension() int { return len(v.terms) }

// IDF returns the inverse document frequency for a term, and whether it is known.
func (v *Vectorizer) IDF(term string) (float64, bool) {
	idx, ok := v.vocab[term]
	if !ok {
		return 0, false
	}
	return v.idf[idx], true
}
