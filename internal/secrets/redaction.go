package secrets

import (
	"regexp"
	"strings"
)

// Replacement is written in place of redacted values
const Replacement = "[REDACTED]"

// Redactor masks credentials in strings and decoded config trees
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor covers DSN passwords (URL and key=value forms) and bearer tokens
func NewRedactor() *Redactor {
	defaultPatterns := []string{
		`(?i)(postgres(?:ql)?://[^:/@\s]+:)[^@\s]+(@)`,
		`(?i)(redis://[^:/@\s]*:)[^@\s]+(@)`,
		`(?i)(\bpassword\s*=\s*)(?:'[^']*'|[^\s]+)()`,
		`(?i)(\bbearer\s+)[a-z0-9\-._~+/]+=*()`,
	}

	patterns := make([]*regexp.Regexp, len(defaultPatterns))
	for i, pattern := range defaultPatterns {
		patterns[i] = regexp.MustCompile(pattern)
	}
	return &Redactor{patterns: patterns}
}

// RedactString keeps the surrounding structure and masks only the secret part
func (r *Redactor) RedactString(input string) string {
	result := input
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "${1}"+Replacement+"${2}")
	}
	return result
}

// RedactMap returns a copy with sensitive keys masked and string values scrubbed
func (r *Redactor) RedactMap(input map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(input))
	for k, v := range input {
		if isSensitiveKey(k) {
			if s, ok := v.(string); ok && s == "" {
				result[k] = s
				continue
			}
			result[k] = Replacement
			continue
		}
		result[k] = r.redactValue(v)
	}
	return result
}

func (r *Redactor) redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return r.RedactString(v)
	case map[string]interface{}:
		return r.RedactMap(v)
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = r.redactValue(val)
		}
		return result
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"password", "secret", "token", "api_key", "dsn"} {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
