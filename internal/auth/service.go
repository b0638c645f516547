package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/whatsapp-web-enhancement/timed-messages/internal/runtimeconfig"
)

// AdminNotifier delivers the admin-auth-request notice to the configured
// admin. Implementations send it over the gateway transport; tests can
// record calls instead.
type AdminNotifier func(ctx context.Context, adminChatID, message string) error

// Service implements admin onboarding and per-sender approval.
type Service struct {
	runtime  *runtimeconfig.RuntimeConfig
	pending  PendingStore
	codeGen  CodeGenerator
	notifier AdminNotifier
}

func NewService(runtime *runtimeconfig.RuntimeConfig, pending PendingStore, codeGen CodeGenerator, notifier AdminNotifier) *Service {
	if codeGen == nil {
		codeGen = SixDigitCodeGenerator{}
	}
	return &Service{runtime: runtime, pending: pending, codeGen: codeGen, notifier: notifier}
}

// IsAdminConfigured reports whether an admin has already been onboarded.
func (s *Service) IsAdminConfigured() bool {
	return s.runtime.Common.AdminSenderID() != ""
}

// TrySetAdmin redeems the onboarding setup code. On success it sets
// senderID (normalized) as the admin, clearing the setup code.
func (s *Service) TrySetAdmin(senderID, code string) (ok bool, err error) {
	expected, err := s.runtime.AdminSetupCode()
	if err != nil {
		return false, err
	}
	if code != expected {
		return false, nil
	}
	normalized := NormalizeSenderID(senderID)
	if err := s.runtime.SetAdminSenderID(normalized); err != nil {
		return false, err
	}
	return true, nil
}

// BuildWelcomeMessage lists every registered instruction blurb as a
// bulleted line, shown to a sender right after approval.
func (s *Service) BuildWelcomeMessage() string {
	instructions := s.runtime.Common.Instructions()
	keys := make([]string, 0, len(instructions))
	for k := range instructions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		line := strings.TrimSpace(instructions[k])
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "🎉 Welcome to the personal assistant bot."
	}

	var b strings.Builder
	b.WriteString("🎉 Welcome to the personal assistant bot.\n\n")
	b.WriteString("Here are the commands you can run:\n")
	for _, line := range lines {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// IsSenderApproved reports whether senderID (raw, not yet normalized) is
// allowed to use admin-gated features.
func (s *Service) IsSenderApproved(senderID string) bool {
	return s.runtime.Common.IsSenderApproved(NormalizeSenderID(senderID))
}

// RequestAuth generates a fresh pending code for senderID (replacing any
// earlier one), notifying the admin unless the requester already is the
// admin. alreadyApproved is
// true when no code was needed because the sender is already approved.
func (s *Service) RequestAuth(ctx context.Context, senderID, senderName, chatID, phone string) (code string, alreadyApproved bool, err error) {
	normalized := NormalizeSenderID(senderID)
	if s.runtime.Common.IsSenderApproved(normalized) {
		return "", true, nil
	}

	// The store stamps UpdatedAt from its own clock, keeping the TTL
	// check and the entry's birth time on the same time source.
	code = s.codeGen.Generate()
	if err := s.pending.Set(ctx, normalized, PendingEntry{Code: code}); err != nil {
		return "", false, err
	}

	admin := s.runtime.Common.AdminSenderID()
	if admin != "" && admin != normalized && s.notifier != nil {
		msg := FormatAdminAuthRequest(code, senderID, chatID, normalized, senderName, phone)
		_ = s.notifier(ctx, admin, msg)
	}
	return code, false, nil
}

// RedeemResult distinguishes why a code redemption didn't approve the
// sender, so the event service can surface the right rejection reason
// (auth_not_requested vs. invalid_auth_code).
type RedeemResult int

const (
	RedeemApproved RedeemResult = iota
	RedeemNotRequested
	RedeemInvalidCode
)

// RedeemAuth checks code against the pending entry for senderID; on match
// it approves the sender and clears the pending entry.
func (s *Service) RedeemAuth(ctx context.Context, senderID, code string) (RedeemResult, error) {
	normalized := NormalizeSenderID(senderID)
	entry, ok, err := s.pending.Get(ctx, normalized)
	if err != nil {
		return RedeemInvalidCode, err
	}
	if !ok {
		return RedeemNotRequested, nil
	}
	if entry.Code != code {
		return RedeemInvalidCode, nil
	}
	if err := s.runtime.Common.AddApprovedNumber(normalized); err != nil {
		return RedeemInvalidCode, err
	}
	_ = s.pending.Clear(ctx, normalized)
	return RedeemApproved, nil
}

// FormatAdminAuthRequest builds the notice sent to the admin when a new
// sender asks to be approved.
func FormatAdminAuthRequest(code, sender, chat, normalized, name, phone string) string {
	return fmt.Sprintf(
		"🔐 Auth request\nCode: %s\nSender: %s\nChat: %s\nNormalized: %s\nName: %s\nPhone: %s",
		code, sender, chat, normalized, name, phone,
	)
}
