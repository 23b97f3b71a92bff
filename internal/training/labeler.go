package training

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

// Labels are lightweight NLP annotations attached to a training sample's
// comment text: content keywords and named entities. They let the fine-tuning
// pipeline group samples by topic without re-tokenizing the corpus.
type Labels struct {
	Keywords []string `json:"keywords,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// Part-of-speech tags kept as keywords: nouns and adjectives.
var keywordTags = map[string]struct{}{
	"NN":   {},
	"NNS":  {},
	"NNP":  {},
	"NNPS": {},
	"JJ":   {},
}

// LabelComment extracts keywords and entities from free-form comment text.
// An empty comment or a tokenizer failure yields empty labels; labeling is
// best-effort and never blocks dataset assembly.
func LabelComment(text string) Labels {
	text = strings.TrimSpace(text)
	if text == "" {
		return Labels{}
	}

	doc, err := prose.NewDocument(text)
	if err != nil {
		return Labels{}
	}

	seen := make(map[string]struct{})
	var labels Labels

	for _, tok := range doc.Tokens() {
		if _, ok := keywordTags[tok.Tag]; !ok {
			continue
		}
		word := strings.ToLower(tok.Text)
		if len(word) < 3 {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		labels.Keywords = append(labels.Keywords, word)
	}

	for _, ent := range doc.Entities() {
		labels.Entities = append(labels.Entities, ent.Text)
	}

	return labels
}
