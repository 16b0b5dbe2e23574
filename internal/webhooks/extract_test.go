package webhooks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := map[string]Outcome{
		"SUCCESS":          Succeeded,
		"completed":        Succeeded,
		" Completed ":      Succeeded,
		"FAILED":           Failed,
		"RETURNED":         Failed,
		"REFUNDED":         Failed,
		"DENIED":           Failed,
		"CANCELLED":        Failed,
		"UNCLAIMED":        Pending,
		"PENDING":          Pending,
		"APPROVAL_PENDING": Pending,
		"SOMETHING_NEW":    Unknown,
		"":                 Unknown,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), "status %q", status)
	}
}

func TestStatusTable_OnlyKnownOutcomes(t *testing.T) {
	for status, o := range statusTable {
		switch o {
		case Succeeded, Failed, Pending:
		default:
			t.Errorf("status %q maps to %q", status, o)
		}
		assert.NotEqual(t, Unknown, Classify(status))
	}
}

func TestClassifyTarget(t *testing.T) {
	tests := []struct {
		target Target
		want   Outcome
	}{
		{Target{Family: "PAYMENT.PAYOUTSBATCH", Status: "SUCCESS"}, Pending},
		{Target{Family: "PAYMENT.PAYOUTSBATCH", Status: "PROCESSING"}, Pending},
		{Target{Family: "PAYMENT.PAYOUTSBATCH", Status: "DENIED"}, Failed},
		{Target{Family: "PAYMENT.PAYOUTSBATCH", Status: "CANCELED"}, Failed},
		{Target{Family: "PAYMENT.PAYOUTS-ITEM", Status: "SUCCESS"}, Succeeded},
		{Target{Family: "CHECKOUT.ORDER", Status: "COMPLETED"}, Succeeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTarget(tt.target), "%s %s", tt.target.Family, tt.target.Status)
	}
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		resource  any
		want      Target
	}{
		{
			name:      "payout item by batch id",
			eventType: "PAYMENT.PAYOUTS-ITEM.FAILED",
			resource:  map[string]any{"sender_batch_id": "ref-1", "transaction_status": "FAILED"},
			want:      Target{Family: "PAYMENT.PAYOUTS-ITEM", Reference: "ref-1", Status: "FAILED"},
		},
		{
			name:      "payout item falls back to item id",
			eventType: "PAYMENT.PAYOUTS-ITEM.SUCCEEDED",
			resource: map[string]any{
				"transaction_status": "SUCCESS",
				"payout_item":        map[string]any{"sender_item_id": "ref-2"},
			},
			want: Target{Family: "PAYMENT.PAYOUTS-ITEM", Reference: "ref-2", Status: "SUCCESS"},
		},
		{
			name:      "payout batch",
			eventType: "PAYMENT.PAYOUTSBATCH.DENIED",
			resource: map[string]any{"batch_header": map[string]any{
				"batch_status":        "DENIED",
				"sender_batch_header": map[string]any{"sender_batch_id": "ref-3"},
			}},
			want: Target{Family: "PAYMENT.PAYOUTSBATCH", Reference: "ref-3", Status: "DENIED"},
		},
		{
			name:      "capture points at its order",
			eventType: "PAYMENT.CAPTURE.COMPLETED",
			resource: map[string]any{
				"id":                 "CAP-1",
				"status":             "COMPLETED",
				"supplementary_data": map[string]any{"related_ids": map[string]any{"order_id": "ORDER-9"}},
			},
			want: Target{Family: "PAYMENT.CAPTURE", Reference: "ORDER-9", Status: "COMPLETED"},
		},
		{
			name:      "checkout order",
			eventType: "CHECKOUT.ORDER.APPROVED",
			resource:  map[string]any{"id": "ORDER-1", "status": "APPROVED"},
			want:      Target{Family: "CHECKOUT.ORDER", Reference: "ORDER-1", Status: "APPROVED"},
		},
		{
			name:      "subscription",
			eventType: "BILLING.SUBSCRIPTION.CANCELLED",
			resource:  map[string]any{"id": "I-SUB", "status": "CANCELLED"},
			want:      Target{Family: "BILLING.SUBSCRIPTION", Reference: "I-SUB", Status: "CANCELLED"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.eventType, raw(t, tt.resource))
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_UnhandledFamily(t *testing.T) {
	_, ok := Extract("CUSTOMER.DISPUTE.CREATED", json.RawMessage(`{"id":"D-1"}`))
	assert.False(t, ok)
}

func TestExtract_MalformedResourceYieldsEmptyTarget(t *testing.T) {
	got, ok := Extract("PAYMENT.PAYOUTS-ITEM.FAILED", json.RawMessage(`"nope"`))
	require.True(t, ok)
	assert.Empty(t, got.Reference)
	assert.Empty(t, got.Status)
}
