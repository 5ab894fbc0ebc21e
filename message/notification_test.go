package message

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeNotificationRoundTrip(t *testing.T) {
	n := NewNotification(Cease, AdministrativeShutdown, []byte("shutting down"))
	body := EncodeNotification(n)
	got, err := DecodeNotification(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Code != n.Code || got.Subcode != n.Subcode {
		t.Errorf("expected (%d,%d), got (%d,%d)", n.Code, n.Subcode, got.Code, got.Subcode)
	}
	if !bytes.Equal(got.Data, n.Data) {
		t.Errorf("expected data %q, got %q", n.Data, got.Data)
	}
}

func TestDecodeNotificationNoData(t *testing.T) {
	n := NewNotification(HoldTimerExpired, NoErrorSubcode, nil)
	body := EncodeNotification(n)
	got, err := DecodeNotification(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Data != nil {
		t.Errorf("expected nil data, got %v", got.Data)
	}
}

func TestDecodeNotificationTooShort(t *testing.T) {
	if _, err := DecodeNotification([]byte{1}); err == nil {
		t.Errorf("expected an error for a 1-byte NOTIFICATION body")
	}
}

func TestNotificationString(t *testing.T) {
	n := NewNotification(Cease, AdministrativeReset, nil)
	if got := n.String(); got == "" {
		t.Errorf("expected a non-empty description")
	}
}
