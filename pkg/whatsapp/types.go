// Package whatsapp provides the wire types and HTTP client for the
// WhatsApp gateway this service sends outbound messages through. The
// gateway itself (its connection to WhatsApp, session management, etc.)
// is an external peer; this package only speaks its documented
// POST /send contract.
package whatsapp

// SendRequest is the body posted to "<base_url>/send".
type SendRequest struct {
	To              string `json:"to"`
	Text            string `json:"text"`
	QuotedMessageID string `json:"quoted_message_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
}

// SendResponse is the gateway's response body. MessageID, when present,
// is the gateway-assigned id of the message just sent — used to link a
// confirmation reply back to the scheduled record it confirms.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}
