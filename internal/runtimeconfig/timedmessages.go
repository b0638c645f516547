package runtimeconfig

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// RuntimeConfig composes the common admin/approved-sender state with the
// timed-messages feature's own settings (scheduling group, admin setup
// code), stored in a second JSON file.
type RuntimeConfig struct {
	Common *CommonConfig
	store  *jsonFileStore
}

// NewRuntimeConfig opens the timed-messages runtime config file and wires
// it to the shared common config file.
func NewRuntimeConfig(commonPath, timedMessagesPath string, logger *zap.Logger) *RuntimeConfig {
	return &RuntimeConfig{
		Common: NewCommonConfig(commonPath, logger),
		store:  newJSONFileStore(timedMessagesPath, logger),
	}
}

// AdminSetupCode returns the current admin onboarding code, generating and
// persisting a fresh random 6-digit one the first time it's requested.
func (c *RuntimeConfig) AdminSetupCode() (string, error) {
	var code string
	err := c.store.mutate(func(data map[string]interface{}) {
		if v, ok := data["admin_setup_code"].(string); ok && v != "" {
			code = v
			return
		}
		code = generateSixDigitCode()
		data["admin_setup_code"] = code
	})
	return code, err
}

// ClearAdminSetupCode removes the onboarding code once an admin has been
// set, so it can no longer be redeemed.
func (c *RuntimeConfig) ClearAdminSetupCode() error {
	return c.store.mutate(func(data map[string]interface{}) {
		delete(data, "admin_setup_code")
	})
}

// SetAdminSenderID records normalizedID as the admin (delegating to
// Common) and clears the setup code, since it has now been redeemed.
func (c *RuntimeConfig) SetAdminSenderID(normalizedID string) error {
	if err := c.Common.SetAdminSenderID(normalizedID); err != nil {
		return err
	}
	return c.ClearAdminSetupCode()
}

// SchedulingGroup returns the chat id timed messages are restricted to, or
// "" if none is set (outside assistant mode no chat may then schedule).
func (c *RuntimeConfig) SchedulingGroup() string {
	var group string
	c.store.withData(func(data map[string]interface{}) {
		if v, ok := data["group_id"].(string); ok {
			group = v
		}
	})
	return group
}

// SetSchedulingGroup restricts scheduling to chatID.
func (c *RuntimeConfig) SetSchedulingGroup(chatID string) error {
	return c.store.mutate(func(data map[string]interface{}) {
		data["group_id"] = chatID
	})
}

// ClearSchedulingGroup unsets the scheduling group.
func (c *RuntimeConfig) ClearSchedulingGroup() error {
	return c.store.mutate(func(data map[string]interface{}) {
		delete(data, "group_id")
	})
}

func generateSixDigitCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to a
		// value that is still well-formed rather than panicking.
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
