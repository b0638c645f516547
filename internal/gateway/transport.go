// Package gateway wraps pkg/whatsapp's HTTP client with the circuit
// breaker and metrics applied at this service's outbound call sites.
package gateway

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/whatsapp-web-enhancement/timed-messages/pkg/whatsapp"
)

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "whatsapp_gateway_circuit_breaker_open",
	Help: "1 when the WhatsApp gateway circuit breaker is open, 0 otherwise",
})

// Sender is the narrow outbound contract the scheduling service and
// event service depend on.
type Sender interface {
	Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error)
}

// Transport wraps *whatsapp.Client with a circuit breaker so a gateway
// outage fails fast across a batch instead of serializing 5-second
// timeouts message by message.
type Transport struct {
	client  *whatsapp.Client
	breaker *gobreaker.CircuitBreaker
}

// New builds a Transport pointed at baseURL.
func New(baseURL string) *Transport {
	settings := gobreaker.Settings{
		Name:        "whatsapp-gateway",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				breakerState.Set(1)
			} else {
				breakerState.Set(0)
			}
		},
	}
	return &Transport{
		client:  whatsapp.NewClient(baseURL),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Send delivers text to chatID, optionally quoting quotedMessageID, and
// tagging the outbound payload with messageID (both optional). It
// returns the gateway-assigned message id on success.
func (t *Transport) Send(ctx context.Context, chatID, text, quotedMessageID, messageID string) (string, error) {
	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.client.Send(ctx, whatsapp.SendRequest{
			To:              chatID,
			Text:            text,
			QuotedMessageID: quotedMessageID,
			MessageID:       messageID,
		})
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
