// internal/service/template_service.go
package service

import (
	"sort"
	"strings"

	"github.com/unclebandit/padaria-campaigns/internal/model"
)

// RenderTemplate substitutes {{key}} placeholders in a single pass.
// Placeholders without an entry in data are left verbatim.
func RenderTemplate(template string, data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// PlaceholderData is the supported placeholder set, in Portuguese and English spellings.
func PlaceholderData(customerName, businessName string) map[string]string {
	first := model.FirstName(customerName)
	return map[string]string{
		"nome_cliente":  customerName,
		"customer_name": customerName,
		"nome":          first,
		"first_name":    first,
		"padaria":       businessName,
		"business_name": businessName,
	}
}

// RenderMessage personalises a campaign template for one recipient.
func RenderMessage(template, customerName, businessName string) string {
	return RenderTemplate(template, PlaceholderData(customerName, businessName))
}
