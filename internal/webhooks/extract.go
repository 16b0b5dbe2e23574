package webhooks

import (
	"encoding/json"
	"strings"
)

// Envelope is the common shape of every provider delivery.
type Envelope struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

// Target names the local transaction an event refers to and the status the
// provider reports for it.
type Target struct {
	Family    string
	Reference string
	Status    string
}

type family struct {
	prefix  string
	extract func(json.RawMessage) (ref, status string)
}

// families is checked in order; the first matching prefix wins.
var families = []family{
	{"PAYMENT.PAYOUTS-ITEM.", payoutItem},
	{"PAYMENT.PAYOUTSBATCH.", payoutBatch},
	{"PAYMENT.CAPTURE.", capture},
	{"CHECKOUT.ORDER.", resourceID},
	{"BILLING.SUBSCRIPTION.", resourceID},
}

// Extract resolves the target of an event. ok is false for event types this
// service does not reconcile.
func Extract(eventType string, resource json.RawMessage) (t Target, ok bool) {
	for _, f := range families {
		if strings.HasPrefix(eventType, f.prefix) {
			ref, status := f.extract(resource)
			return Target{Family: strings.TrimSuffix(f.prefix, "."), Reference: ref, Status: status}, true
		}
	}
	return Target{}, false
}

func payoutItem(raw json.RawMessage) (string, string) {
	var r struct {
		SenderBatchID     string `json:"sender_batch_id"`
		TransactionStatus string `json:"transaction_status"`
		PayoutItem        struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
	}
	_ = json.Unmarshal(raw, &r)
	ref := r.SenderBatchID
	if ref == "" {
		ref = r.PayoutItem.SenderItemID
	}
	return ref, r.TransactionStatus
}

func payoutBatch(raw json.RawMessage) (string, string) {
	var r struct {
		BatchHeader struct {
			BatchStatus       string `json:"batch_status"`
			SenderBatchHeader struct {
				SenderBatchID string `json:"sender_batch_id"`
			} `json:"sender_batch_header"`
		} `json:"batch_header"`
	}
	_ = json.Unmarshal(raw, &r)
	return r.BatchHeader.SenderBatchHeader.SenderBatchID, r.BatchHeader.BatchStatus
}

func capture(raw json.RawMessage) (string, string) {
	var r struct {
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	}
	_ = json.Unmarshal(raw, &r)
	return r.SupplementaryData.RelatedIDs.OrderID, r.Status
}

func resourceID(raw json.RawMessage) (string, string) {
	var r struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(raw, &r)
	return r.ID, r.Status
}
