package observability

import (
	"regexp"
	"strings"
)

const (
	Redaction = "***"
	Separator = ";"
)

// PIIFields are never written to logs in clear text.
var PIIFields = []string{"name", "email", "phone", "ssn", "password"}

// FilterDatum replaces the value of every "<field>=<value>" pair in message
// with redaction. A value runs up to the next separator.
func FilterDatum(fields []string, redaction, message, separator string) string {
	if len(fields) == 0 || message == "" {
		return message
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			quoted = append(quoted, regexp.QuoteMeta(f))
		}
	}
	if len(quoted) == 0 {
		return message
	}

	valueClass := `.*`
	if separator != "" {
		valueClass = `[^` + regexp.QuoteMeta(separator) + `]*`
	}
	re := regexp.MustCompile(`(` + strings.Join(quoted, "|") + `)=` + valueClass)
	return re.ReplaceAllString(message, "${1}="+strings.ReplaceAll(redaction, "$", "$$"))
}

func isPIIField(key string) bool {
	key = strings.ToLower(key)
	for _, f := range PIIFields {
		if key == f {
			return true
		}
	}
	return false
}
