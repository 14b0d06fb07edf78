// Package labels maps enumeration codes to human-readable labels.
package labels

import (
	"context"

	"golang.org/x/text/language"
)

type Locale string

const (
	French  Locale = "fr"
	English Locale = "en"
)

// Default is used when no Accept-Language preference matches.
const Default = French

// Category names one code family.
type Category string

const (
	RequestStatus   Category = "request_status"
	ServiceType     Category = "service_type"
	Urgency         Category = "urgency"
	ActionType      Category = "action_type"
	PaymentStatus   Category = "payment_status"
	PaymentType     Category = "payment_type"
	DocumentType    Category = "document_type"
	ExtensionStatus Category = "extension_status"
	RevisionStatus  Category = "revision_status"
)

// Categories lists every category in display order.
var Categories = []Category{
	RequestStatus, ServiceType, Urgency, ActionType, PaymentStatus,
	PaymentType, DocumentType, ExtensionStatus, RevisionStatus,
}

var matcher = language.NewMatcher([]language.Tag{language.French, language.English})

// Match picks a supported locale from an Accept-Language header value.
func Match(acceptLanguage string) Locale {
	if acceptLanguage == "" {
		return Default
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return Default
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Default
	}
	if idx == 1 {
		return English
	}
	return French
}

// Label returns the label for code, or the code itself when none is known.
func Label(loc Locale, cat Category, code string) string {
	table, ok := tables[loc]
	if !ok {
		table = tables[Default]
	}
	if l, ok := table[cat][code]; ok {
		return l
	}
	return code
}

// Table returns a copy of every label of one locale.
func Table(loc Locale) map[Category]map[string]string {
	table, ok := tables[loc]
	if !ok {
		table = tables[Default]
	}
	out := make(map[Category]map[string]string, len(table))
	for cat, codes := range table {
		m := make(map[string]string, len(codes))
		for k, v := range codes {
			m[k] = v
		}
		out[cat] = m
	}
	return out
}

type ctxKey struct{}

func WithLocale(ctx context.Context, loc Locale) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func FromContext(ctx context.Context) Locale {
	if loc, ok := ctx.Value(ctxKey{}).(Locale); ok {
		return loc
	}
	return Default
}
