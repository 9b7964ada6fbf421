package engine

import (
	"regexp"
	"strings"

	"github.com/relaycrm/relay-go/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// RenderPlaceholders substitutes contact variables such as {{first_name}}.
// Unknown placeholders are left as written.
func RenderPlaceholders(text string, contact domain.Contact) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	values := map[string]string{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"name":       contact.Name(),
		"company":    contact.Company,
		"email":      contact.Email,
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.ToLower(placeholderPattern.FindStringSubmatch(match)[1])
		if v, ok := values[key]; ok {
			return v
		}
		return match
	})
}
