package extract

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/partharvest/models"
)

// Strategy is one named way of reading a field from a page snapshot.
type Strategy[T any] struct {
	Name string
	Read func(doc *goquery.Document) (T, bool)
}

// firstOf runs strategies in order and returns the first hit. A panicking
// strategy fails the field with its default; it never takes the record down.
func firstOf[T any](doc *goquery.Document, fallback T, strategies ...Strategy[T]) (out models.Outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out = models.Failed(fallback, fmt.Errorf("strategy panicked: %v", r))
		}
	}()
	for _, s := range strategies {
		if v, ok := s.Read(doc); ok {
			return models.Found(v, s.Name)
		}
	}
	return models.Missing(fallback)
}

// firstText reads the text of the first element matching selector.
func firstText(selector string) func(*goquery.Document) (string, bool) {
	m := cascadia.MustCompile(selector)
	return func(doc *goquery.Document) (string, bool) {
		sel := doc.FindMatcher(m).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := textOf(sel)
		return text, text != ""
	}
}
