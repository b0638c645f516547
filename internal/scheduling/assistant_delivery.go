package scheduling

import (
	"net/url"
	"regexp"
	"strings"
)

var nonDigit = regexp.MustCompile(`\D`)

// formatAssistantDelivery builds the notice sent to the originator in
// assistant mode instead of delivering straight to the recipient: the
// recipient, a single-line preview, and a wa.me link prefilled with the
// text so the sender can fire it off with one tap.
func formatAssistantDelivery(chatID, text string) string {
	link := buildWhatsAppLink(chatID, text)
	to := displayChatID(chatID)
	preview := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if len(preview) > 160 {
		preview = preview[:157] + "..."
	}
	if link == "" {
		return "⏰ Scheduled message ready\n" +
			"To: " + to + "\n" +
			"Text: " + preview + "\n" +
			"Send link unavailable for this recipient."
	}
	return "⏰ Scheduled message ready\n" +
		"To: " + to + "\n" +
		"Text: " + preview + "\n" +
		"Send: " + link
}

func buildWhatsAppLink(chatID, text string) string {
	digits := nonDigit.ReplaceAllString(chatID, "")
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

func displayChatID(value string) string {
	if idx := strings.Index(value, "@"); idx >= 0 {
		return value[:idx]
	}
	return value
}
