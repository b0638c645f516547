package events

import (
	"fmt"
	"strings"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/models"
)

const (
	toWhoPrompt     = "*To Who?*\n(Phone number or contact)"
	whatToSayPrompt = "*What should I say?*"
	canceledReply   = "Canceled scheduling."
)

// displayRecipient strips the WhatsApp jid suffix for a human-readable
// reply.
func displayRecipient(chatID string) string {
	if idx := strings.Index(chatID, "@"); idx >= 0 {
		return chatID[:idx]
	}
	return chatID
}

// formatScheduleConfirmation builds the "✅ Scheduled" reply sent after a
// flow's text step successfully creates a record.
func formatScheduleConfirmation(msg *models.ScheduledMessage, tzName string) string {
	return fmt.Sprintf(
		"✅ Scheduled\nID: %s\nTo: %s\nAt: %s",
		msg.IDPrefix(), displayRecipient(msg.ChatID), formatDateTime(msg.SendAt, tzName),
	)
}

// formatListReply renders up to 5 of the sender's scheduled messages.
func formatListReply(msgs []*models.ScheduledMessage, tzName string) string {
	if len(msgs) == 0 {
		return "You have no scheduled messages."
	}
	var b strings.Builder
	b.WriteString("📋 Scheduled messages:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "- %s | %s | %s\n", m.IDPrefix(), displayRecipient(m.ChatID), formatDateTime(m.SendAt, tzName))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatInstructionsMenu renders the same options menu shown on
// first-time approval, reused for the explicit "instructions" command.
func formatInstructionsMenu(instructions map[string]string) string {
	if len(instructions) == 0 {
		return "No instructions are currently configured."
	}
	var lines []string
	for _, v := range instructions {
		v = strings.TrimSpace(v)
		if v != "" {
			lines = append(lines, v)
		}
	}
	var b strings.Builder
	b.WriteString("Here are the commands you can run:\n")
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
