package amqp

import (
	"testing"
	"time"
)

func TestLedgerChangeMessageRoundTrip(t *testing.T) {
	msg := NewLedgerChangeMessage(42, OpCreated)
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	parsed, err := LedgerChangeMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if parsed.TransactionID != 42 || parsed.Op != OpCreated {
		t.Errorf("parsed = %+v", parsed)
	}
	if !parsed.Timestamp.Truncate(time.Second).Equal(msg.Timestamp.Truncate(time.Second)) {
		t.Errorf("timestamp drift: %v vs %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestLedgerChangeMessageValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  LedgerChangeMessage
	}{
		{"zero transaction id", LedgerChangeMessage{TransactionID: 0, Op: OpCreated}},
		{"negative transaction id", LedgerChangeMessage{TransactionID: -1, Op: OpDeleted}},
		{"unknown op", LedgerChangeMessage{TransactionID: 1, Op: "updated"}},
		{"empty op", LedgerChangeMessage{TransactionID: 1}},
	}
	for _, c := range cases {
		if err := c.msg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestLedgerChangeMessageFromJSONRejectsGarbage(t *testing.T) {
	for _, bad := range [][]byte{
		[]byte(``),
		[]byte(`not json`),
		[]byte(`{"transaction_id": 0, "op": "created"}`),
		[]byte(`{"transaction_id": 5, "op": "renamed"}`),
	} {
		if _, err := LedgerChangeMessageFromJSON(bad); err == nil {
			t.Errorf("expected error for payload %q", bad)
		}
	}
}
