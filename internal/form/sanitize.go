package form

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	richTextPolicyOnce sync.Once
	richTextPolicy     *bluemonday.Policy

	plainTextPolicyOnce sync.Once
	plainTextPolicy     *bluemonday.Policy
)

// SanitizeRichText strips everything but basic formatting markup from
// author or respondent supplied HTML.
func SanitizeRichText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(richTextSanitizer().Sanitize(trimmed))
}

// PlainText returns the visible text of an HTML fragment.
func PlainText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.TrimSpace(raw)
	}
	stripped := plainTextSanitizer().Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

func richTextSanitizer() *bluemonday.Policy {
	richTextPolicyOnce.Do(func() {
		policy := bluemonday.StrictPolicy()
		policy.AllowElements(
			"p", "br", "strong", "b", "em", "i", "u", "s", "blockquote",
			"ul", "ol", "li", "h1", "h2", "h3", "code", "pre",
		)
		policy.AllowAttrs("href").OnElements("a")
		policy.AllowStandardURLs()
		policy.RequireNoFollowOnLinks(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		richTextPolicy = policy
	})
	return richTextPolicy
}

func plainTextSanitizer() *bluemonday.Policy {
	plainTextPolicyOnce.Do(func() {
		plainTextPolicy = bluemonday.StrictPolicy()
	})
	return plainTextPolicy
}

// Clean normalizes an authored field in place: known type aliases are
// resolved, display strings are trimmed and help text is sanitized.
func Clean(field Field) Field {
	if parsed, ok := ParseType(string(field.Type)); ok {
		field.Type = parsed
	}
	field.Label = strings.TrimSpace(PlainText(field.Label))
	field.Placeholder = strings.TrimSpace(field.Placeholder)
	field.HelpText = SanitizeRichText(field.HelpText)
	if !field.Type.IsChoice() {
		field.Options = nil
	}
	if field.Logic != nil && !field.Logic.Active() {
		field.Logic = nil
	}
	if field.Logic != nil && field.Logic.Action == "" {
		field.Logic.Action = ActionShow
	}
	if field.Type == TypeRichText {
		if text, ok := field.DefaultValue.(string); ok {
			field.DefaultValue = SanitizeRichText(text)
		}
	}
	return field
}
