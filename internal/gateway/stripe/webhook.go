package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/clearhaven/dunlin/internal/gateway/domain"
)

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeEventObject struct {
	ID           string `json:"id"`
	Object       string `json:"object"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Charge       string `json:"charge"`
}

// VerifySignature checks the Stripe-Signature header against the webhook
// secret and classifies the event envelope. Unknown event types come back as
// domain.EventUnknown, not an error; only a bad signature fails.
func (c *Client) VerifySignature(ctx context.Context, payload []byte, signatureHeader string) (*domain.VerifiedEvent, error) {
	sigHeader := strings.TrimSpace(signatureHeader)
	if sigHeader == "" {
		return nil, domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, domain.ErrInvalidSignature
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}

	var object stripeEventObject
	if len(event.Data.Object) > 0 {
		if err := json.Unmarshal(event.Data.Object, &object); err != nil {
			return nil, domain.ErrInvalidPayload
		}
	}

	verified := &domain.VerifiedEvent{
		EventID:     event.ID,
		Type:        classifyEventType(event.Type),
		CustomerRef: strings.TrimSpace(object.Customer),
		SubRef:      strings.TrimSpace(object.Subscription),
	}
	if verified.CustomerRef == "" {
		verified.ChargeRef = chargeRefFromObject(object)
	}
	return verified, nil
}

func classifyEventType(raw string) domain.EventType {
	switch strings.TrimSpace(raw) {
	case "invoice.paid", "invoice.payment_succeeded":
		return domain.EventPaymentSucceeded
	case "invoice.payment_failed":
		return domain.EventPaymentFailed
	case "charge.dispute.created":
		return domain.EventDisputeCreated
	case "charge.dispute.closed":
		return domain.EventDisputeClosed
	case "charge.refunded":
		return domain.EventRefunded
	case "checkout.session.completed":
		return domain.EventCheckoutCompleted
	case "customer.subscription.deleted":
		return domain.EventSubscriptionDeleted
	default:
		return domain.EventUnknown
	}
}

// chargeRefFromObject finds a charge reference on objects that carry no
// customer field, so the caller can resolve the customer with a lookup.
func chargeRefFromObject(object stripeEventObject) string {
	if object.Object == "charge" {
		return strings.TrimSpace(object.ID)
	}
	return strings.TrimSpace(object.Charge)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
