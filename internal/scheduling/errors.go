package scheduling

// ValidationError is a user-facing rejection (bad time, out-of-window,
// missing field, ambiguous id, ...). Its Reason is the machine-readable
// tag internal/events surfaces as the inbound event's rejection reason;
// its Error text is shown to the WhatsApp user.
type ValidationError struct {
	reason  string
	message string
}

func NewValidationError(reason, message string) *ValidationError {
	return &ValidationError{reason: reason, message: message}
}

func (e *ValidationError) Error() string  { return e.message }
func (e *ValidationError) Reason() string { return e.reason }

// ReasonOf extracts the machine-readable reason tag from err if it's a
// *ValidationError, or "storage_error" for anything else (an unexpected
// repository/infra failure).
func ReasonOf(err error) string {
	if ve, ok := err.(*ValidationError); ok {
		return ve.Reason()
	}
	return "storage_error"
}
