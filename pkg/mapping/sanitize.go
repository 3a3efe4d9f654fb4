package mapping

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText strips markup from s and returns its visible text.
// Entities are decoded; script and style contents are dropped.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way we keep what we have
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			if isInvisible(z) {
				skip++
			}
		case html.EndTagToken:
			if isInvisible(z) && skip > 0 {
				skip--
			}
		}
	}
}

func isInvisible(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "head", "title":
		return true
	default:
		return false
	}
}
