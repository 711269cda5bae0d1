// internal/service/template_service.go
package service

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/unclebandit/crm-campaigns/internal/model"
)

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderTemplate substitutes {{name}}, {{email}}, {{totalSpends}} and
// {{visitCount}} with the customer's values. Keys are matched
// case-insensitively; unknown placeholders are left as written.
func RenderTemplate(template string, c *model.Customer) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		switch strings.ToLower(key) {
		case "name":
			return c.Name
		case "email":
			return c.Email
		case "totalspends":
			return strconv.FormatFloat(c.TotalSpends, 'f', -1, 64)
		case "visitcount":
			return strconv.Itoa(c.VisitCount)
		}
		return m
	})
}
