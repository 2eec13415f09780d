package engine

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"formdeck/api/internal/form"
)

// Rule identifiers reported in Result.Rule.
const (
	RuleRequired    = "required"
	RuleMin         = "min"
	RuleMax         = "max"
	RuleMinLength   = "min_length"
	RuleMaxLength   = "max_length"
	RulePattern     = "pattern"
	RuleEmail       = "email"
	RuleURL         = "url"
	RulePhone       = "phone"
	RuleColor       = "color"
	RuleNumber      = "number"
	RuleWholeNumber = "whole_number"
	RuleDate        = "date"
	RuleMinDate     = "min_date"
	RuleMaxDate     = "max_date"
	RuleOption      = "option"
	RuleFileType    = "file_type"
	RuleFileSize    = "file_size"
)

type Result struct {
	Valid   bool   `json:"valid"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message,omitempty"`
}

func pass() Result {
	return Result{Valid: true}
}

func fail(rule, message string) Result {
	return Result{Valid: false, Rule: rule, Message: message}
}

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{7,20}$`)
	colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

	patternCache sync.Map // pattern string -> compiledPattern
)

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// Validate checks a candidate value against a field. Hidden fields are always
// valid. Checks run in a fixed order and the first failure wins: required,
// length or range bounds, pattern, format, then the type's semantic check.
func Validate(field form.Field, value any, visible bool) Result {
	if !visible {
		return pass()
	}

	empty := form.IsEmpty(value)
	if field.Type.IsBoolean() {
		empty = !form.Bool(value)
	}
	if empty {
		if field.Required {
			return fail(RuleRequired, "This field is required")
		}
		return pass()
	}

	rules := field.Validation
	switch {
	case field.Type.IsNumeric():
		return validateNumber(field, value)
	case field.Type.IsMulti():
		return validateSelections(field, form.Strings(value))
	case field.Type == form.TypeFile:
		return validateFiles(rules, form.Files(value))
	case field.Type == form.TypeDate, field.Type == form.TypeDateTime, field.Type == form.TypeTime:
		return validateTemporal(field, form.Text(value))
	case field.Type.IsBoolean(), field.Type == form.TypeCaptcha, field.Type == form.TypeSignature:
		return pass()
	}
	return validateText(field, form.Text(value))
}

func validateText(field form.Field, text string) Result {
	rules := field.Validation
	measured := text
	if field.Type == form.TypeRichText {
		measured = form.PlainText(text)
	}
	length := utf8.RuneCountInString(measured)
	if rules.MinLength != nil && length < *rules.MinLength {
		return fail(RuleMinLength, fmt.Sprintf("Must be at least %d characters", *rules.MinLength))
	}
	if rules.MaxLength != nil && length > *rules.MaxLength {
		return fail(RuleMaxLength, fmt.Sprintf("Must be at most %d characters", *rules.MaxLength))
	}

	if result := validatePattern(field, text); !result.Valid {
		return result
	}

	if field.Type == form.TypeEmail || rules.Email {
		if !validEmail(text) {
			return fail(RuleEmail, "Enter a valid email address")
		}
	}
	if field.Type == form.TypeURL || rules.URL {
		if !validURL(text) {
			return fail(RuleURL, "Enter a valid URL")
		}
	}
	if field.Type == form.TypePhone && !phonePattern.MatchString(strings.TrimSpace(text)) {
		return fail(RulePhone, "Enter a valid phone number")
	}
	if field.Type == form.TypeColor && !colorPattern.MatchString(strings.TrimSpace(text)) {
		return fail(RuleColor, "Enter a valid color")
	}

	if field.Type.IsChoice() && len(field.Options) > 0 && !field.Options.Has(text) {
		return fail(RuleOption, "Choose one of the available options")
	}
	return pass()
}

func validateNumber(field form.Field, value any) Result {
	rules := field.Validation
	number := form.Number(value)
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return fail(RuleNumber, "Must be a number")
	}
	if rules.Min != nil && number < *rules.Min {
		return fail(RuleMin, "Must be at least "+formatNumber(*rules.Min))
	}
	if rules.Max != nil && number > *rules.Max {
		return fail(RuleMax, "Must be at most "+formatNumber(*rules.Max))
	}
	if result := validatePattern(field, form.Text(value)); !result.Valid {
		return result
	}
	if (rules.Integer || field.Type == form.TypeRating) && number != math.Trunc(number) {
		return fail(RuleWholeNumber, "Must be a whole number")
	}
	return pass()
}

func validateSelections(field form.Field, selected []string) Result {
	rules := field.Validation
	if rules.MinLength != nil && len(selected) < *rules.MinLength {
		return fail(RuleMinLength, fmt.Sprintf("Select at least %d options", *rules.MinLength))
	}
	if rules.MaxLength != nil && len(selected) > *rules.MaxLength {
		return fail(RuleMaxLength, fmt.Sprintf("Select at most %d options", *rules.MaxLength))
	}
	if len(field.Options) == 0 {
		return pass()
	}
	for _, value := range selected {
		if !field.Options.Has(value) {
			return fail(RuleOption, "Choose from the available options")
		}
	}
	return pass()
}

func validateFiles(rules form.Rules, files []form.FileRef) Result {
	if len(files) == 0 {
		return fail(RuleFileType, "Upload a file")
	}
	for _, file := range files {
		if rules.MaxFileSize > 0 && file.Size > rules.MaxFileSize {
			return fail(RuleFileSize, "File exceeds the maximum size of "+formatBytes(rules.MaxFileSize))
		}
	}
	if len(rules.AllowedExtensions) == 0 {
		return pass()
	}
	for _, file := range files {
		if !AllowedExtension(rules.AllowedExtensions, file.Name) {
			return fail(RuleFileType, "File type is not allowed")
		}
	}
	return pass()
}

// AllowedExtension reports whether name has one of the allowed extensions.
// Comparison ignores case and a leading dot in the allowed list.
func AllowedExtension(allowed []string, name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, candidate := range allowed {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(candidate)), ".") == ext {
			return true
		}
	}
	return false
}

var (
	dateLayouts     = []string{"2006-01-02"}
	dateTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}
	timeLayouts     = []string{"15:04", "15:04:05"}
	boundLayouts    = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}
)

func validateTemporal(field form.Field, text string) Result {
	text = strings.TrimSpace(text)
	if result := validatePattern(field, text); !result.Valid {
		return result
	}

	switch field.Type {
	case form.TypeTime:
		if _, ok := parseAny(timeLayouts, text); !ok {
			return fail(RuleDate, "Enter a valid time")
		}
		return pass()
	case form.TypeDateTime:
		moment, ok := parseAny(dateTimeLayouts, text)
		if !ok {
			return fail(RuleDate, "Enter a valid date and time")
		}
		return checkDateBounds(field.Validation, moment)
	}

	moment, ok := parseAny(dateLayouts, text)
	if !ok {
		return fail(RuleDate, "Enter a valid date")
	}
	return checkDateBounds(field.Validation, moment)
}

func checkDateBounds(rules form.Rules, moment time.Time) Result {
	if rules.MinDate != "" {
		if lower, ok := parseAny(boundLayouts, rules.MinDate); ok && moment.Before(lower) {
			return fail(RuleMinDate, "Date must be on or after "+rules.MinDate)
		}
	}
	if rules.MaxDate != "" {
		if upper, ok := parseAny(boundLayouts, rules.MaxDate); ok {
			if !strings.Contains(rules.MaxDate, "T") {
				upper = upper.Add(24*time.Hour - time.Nanosecond)
			}
			if moment.After(upper) {
				return fail(RuleMaxDate, "Date must be on or before "+rules.MaxDate)
			}
		}
	}
	return pass()
}

func parseAny(layouts []string, text string) (time.Time, bool) {
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// validatePattern applies the author's pattern. A pattern that does not
// compile is skipped.
func validatePattern(field form.Field, text string) Result {
	pattern := field.Validation.Pattern
	if pattern == "" {
		return pass()
	}
	re, ok := compilePattern(field.ID, pattern)
	if !ok || re.MatchString(text) {
		return pass()
	}
	message := field.Validation.PatternMessage
	if message == "" {
		message = "Does not match the required format"
	}
	return fail(RulePattern, message)
}

func compilePattern(fieldID, pattern string) (*regexp.Regexp, bool) {
	if cached, ok := patternCache.Load(pattern); ok {
		entry := cached.(compiledPattern)
		return entry.re, entry.err == nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logf("engine: field %s: skipping malformed pattern %q: %v", fieldID, pattern, err)
	}
	patternCache.Store(pattern, compiledPattern{re: re, err: err})
	return re, err == nil
}

func validEmail(text string) bool {
	text = strings.TrimSpace(text)
	addr, err := mail.ParseAddress(text)
	if err != nil || addr.Address != text {
		return false
	}
	at := strings.LastIndex(text, "@")
	return at > 0 && strings.Contains(text[at+1:], ".")
}

func validURL(text string) bool {
	parsed, err := url.Parse(strings.TrimSpace(text))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
