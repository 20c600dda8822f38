package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Gateway webhook event types we act on.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

// Event is one of CaptureCompleted, CaptureDenied, CaptureRefunded or
// UnknownEvent.
type Event interface {
	eventType() string
}

type CaptureCompleted struct {
	CaptureID string
	OrderID   string
}

type CaptureDenied struct {
	CaptureID string
	OrderID   string
}

type CaptureRefunded struct {
	RefundID  string
	CaptureID string
}

type UnknownEvent struct {
	Type string
}

func (CaptureCompleted) eventType() string { return EventCaptureCompleted }
func (CaptureDenied) eventType() string    { return EventCaptureDenied }
func (CaptureRefunded) eventType() string  { return EventCaptureRefunded }
func (e UnknownEvent) eventType() string   { return e.Type }

// Envelope is the outer webhook document.
type Envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type eventResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// ParseEvent decodes a webhook body into its envelope and typed event.
func ParseEvent(body []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, nil, fmt.Errorf("decode webhook envelope: %w", err)
	}

	var res eventResource
	if len(env.Resource) > 0 && string(env.Resource) != "null" {
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return env, nil, fmt.Errorf("decode webhook resource: %w", err)
		}
	}

	switch env.EventType {
	case EventCaptureCompleted:
		return env, CaptureCompleted{CaptureID: res.ID, OrderID: res.SupplementaryData.RelatedIDs.OrderID}, nil
	case EventCaptureDenied:
		return env, CaptureDenied{CaptureID: res.ID, OrderID: res.SupplementaryData.RelatedIDs.OrderID}, nil
	case EventCaptureRefunded:
		return env, CaptureRefunded{RefundID: res.ID, CaptureID: res.upCaptureID()}, nil
	default:
		return env, UnknownEvent{Type: env.EventType}, nil
	}
}

// upCaptureID returns the last path segment of the rel=up link, which on a
// refund points at the refunded capture.
func (r eventResource) upCaptureID() string {
	for _, l := range r.Links {
		if l.Rel != "up" {
			continue
		}
		href := strings.TrimRight(l.Href, "/")
		if i := strings.LastIndex(href, "/"); i >= 0 {
			return href[i+1:]
		}
		return href
	}
	return ""
}

// EventID returns the envelope id, or a payload hash when the gateway sent none.
func EventID(env Envelope, body []byte) string {
	if id := strings.TrimSpace(env.ID); id != "" {
		return id
	}
	sum := sha256.Sum256(body)
	return "hash:" + hex.EncodeToString(sum[:])
}
