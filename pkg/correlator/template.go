package correlator

import (
	"fmt"
	"regexp"

	"github.com/Vaayujeet/encore/pkg/elastic"
)

var placeholderRE = regexp.MustCompile(`\{([^{}]+)\}`)

// renderTemplate fills {field} placeholders from the event document.
// Dotted placeholders reach into nested objects. A missing field
// renders as "N/A" so a template never fails an event.
func renderTemplate(tpl string, doc *elastic.Document) string {
	if tpl == "" {
		return ""
	}
	return placeholderRE.ReplaceAllStringFunc(tpl, func(m string) string {
		path := m[1 : len(m)-1]
		v, ok := doc.Nested(path)
		if !ok || v == nil {
			return "N/A"
		}
		switch t := v.(type) {
		case string:
			if t == "" {
				return "N/A"
			}
			return t
		case float64:
			if t == float64(int64(t)) {
				return fmt.Sprintf("%d", int64(t))
			}
			return fmt.Sprintf("%g", t)
		}
		return fmt.Sprintf("%v", v)
	})
}
