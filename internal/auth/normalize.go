package auth

import (
	"regexp"
	"strings"
)

var digitsOnly = regexp.MustCompile(`[0-9]`)
var idPrefixPattern = regexp.MustCompile(`\b([0-9a-fA-F]{12})\b`)

// NormalizeRecipient turns a user-supplied "to" value (a raw phone number,
// an already-suffixed jid, or a literal "@..." value) into a WhatsApp jid.
// contactPhone is used as a fallback when value itself carries no usable
// digits (e.g. the user shared a contact card instead of typing a number).
func NormalizeRecipient(value, contactPhone string) string {
	trimmed := strings.TrimSpace(value)
	if strings.Contains(trimmed, "@") {
		return trimmed
	}

	digits := digitsOnly.FindAllString(trimmed, -1)
	if len(digits) >= 8 {
		return strings.Join(digits, "") + "@s.whatsapp.net"
	}

	if contactPhone != "" {
		return NormalizeRecipient(contactPhone, "")
	}
	return ""
}

// NormalizeContactPhone extracts a single phone number from a WhatsApp
// contact-share payload, which may carry zero, one, or several numbers.
// issue is "multiple_numbers" when more than one distinct number is
// present, signalling the caller should reject the share rather than
// guess which number the sender meant.
func NormalizeContactPhone(contactPhone interface{}) (normalized string, issue string) {
	switch v := contactPhone.(type) {
	case nil:
		return "", ""
	case string:
		return v, ""
	case []string:
		unique := uniqueNonEmpty(v)
		if len(unique) == 0 {
			return "", ""
		}
		if len(unique) > 1 {
			return "", "multiple_numbers"
		}
		return unique[0], ""
	default:
		return "", ""
	}
}

func uniqueNonEmpty(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NormalizeSenderID reduces a jid/phone value to its digit-only form, the
// canonical key used for approved-sender comparisons and repository
// sender-scoped queries. A value with no digits at all falls back to its
// trimmed original so distinct non-numeric ids don't collapse into "".
func NormalizeSenderID(value string) string {
	digits := strings.Join(digitsOnly.FindAllString(value, -1), "")
	if digits == "" {
		return strings.TrimSpace(value)
	}
	return digits
}

// ExtractIDPrefix pulls the first standalone 12-hex-character token out of
// free text, the form used to resolve "cancel <id>" replies.
func ExtractIDPrefix(text string) string {
	m := idPrefixPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
