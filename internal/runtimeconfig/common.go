package runtimeconfig

import "go.uber.org/zap"

// CommonConfig is the admin-onboarding/approved-sender state shared across
// every assistant feature, backed by its own JSON file so unrelated
// features never contend on the same lock.
type CommonConfig struct {
	store *jsonFileStore
}

// NewCommonConfig opens (without requiring it to already exist) the common
// runtime config file at path.
func NewCommonConfig(path string, logger *zap.Logger) *CommonConfig {
	return &CommonConfig{store: newJSONFileStore(path, logger)}
}

// AdminSenderID returns the normalized id of the onboarded admin, or "" if
// none has been set yet.
func (c *CommonConfig) AdminSenderID() string {
	var id string
	c.store.withData(func(data map[string]interface{}) {
		if v, ok := data["admin_sender_id"].(string); ok {
			id = v
		}
	})
	return id
}

// SetAdminSenderID records the admin and also appends their normalized id
// to approved_numbers, so the very first approved sender is always the
// admin themself.
func (c *CommonConfig) SetAdminSenderID(normalizedID string) error {
	return c.store.mutate(func(data map[string]interface{}) {
		data["admin_sender_id"] = normalizedID
		data["approved_numbers"] = appendUnique(stringSlice(data["approved_numbers"]), normalizedID)
	})
}

// ApprovedNumbers returns the set of sender ids allowed to use
// admin-gated features. The current admin id is always considered
// approved even if it predates being appended to the stored set.
func (c *CommonConfig) ApprovedNumbers() []string {
	var nums []string
	var admin string
	c.store.withData(func(data map[string]interface{}) {
		nums = stringSlice(data["approved_numbers"])
		if v, ok := data["admin_sender_id"].(string); ok {
			admin = v
		}
	})
	if admin != "" {
		nums = appendUnique(nums, admin)
	}
	return nums
}

// IsSenderApproved reports whether normalizedID is allowed to use
// admin-gated features.
func (c *CommonConfig) IsSenderApproved(normalizedID string) bool {
	for _, n := range c.ApprovedNumbers() {
		if n == normalizedID {
			return true
		}
	}
	return false
}

// Instructions returns the service-name → human-readable blurb map shown
// to a newly-approved sender and by the "instructions" command.
func (c *CommonConfig) Instructions() map[string]string {
	out := map[string]string{}
	c.store.withData(func(data map[string]interface{}) {
		raw, ok := data["instructions"].(map[string]interface{})
		if !ok {
			return
		}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	})
	return out
}

// SetInstruction registers or replaces the blurb for service.
func (c *CommonConfig) SetInstruction(service, text string) error {
	return c.store.mutate(func(data map[string]interface{}) {
		raw, ok := data["instructions"].(map[string]interface{})
		if !ok {
			raw = map[string]interface{}{}
		}
		raw[service] = text
		data["instructions"] = raw
	})
}

// AddApprovedNumber grants normalizedID access.
func (c *CommonConfig) AddApprovedNumber(normalizedID string) error {
	return c.store.mutate(func(data map[string]interface{}) {
		data["approved_numbers"] = appendUnique(stringSlice(data["approved_numbers"]), normalizedID)
	})
}

// RemoveApprovedNumber revokes normalizedID's access.
func (c *CommonConfig) RemoveApprovedNumber(normalizedID string) error {
	return c.store.mutate(func(data map[string]interface{}) {
		out := stringSlice(data["approved_numbers"])
		filtered := out[:0]
		for _, n := range out {
			if n != normalizedID {
				filtered = append(filtered, n)
			}
		}
		data["approved_numbers"] = filtered
	})
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		if s, ok := v.([]string); ok {
			return append([]string(nil), s...)
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
