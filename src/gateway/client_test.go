package gateway

import (
	"testing"

	"pmexecutor/src/model"
	"pmexecutor/src/security"
)

func TestMapOrderStatus(t *testing.T) {
	tests := []struct {
		name  string
		order clobOrder
		want  string
	}{
		{
			name:  "fully matched is filled",
			order: clobOrder{ID: "0x1", Status: "matched", OriginalSize: "10", SizeMatched: "10"},
			want:  model.OrderStatusFilled,
		},
		{
			name:  "partially matched reports partial fill",
			order: clobOrder{ID: "0x1", Status: "matched", OriginalSize: "10", SizeMatched: "4"},
			want:  model.OrderStatusPartiallyFilled,
		},
		{
			name:  "live with no fill is acknowledged",
			order: clobOrder{ID: "0x1", Status: "live", OriginalSize: "10", SizeMatched: "0"},
			want:  model.OrderStatusAcknowledged,
		},
		{
			name:  "live with a fill is partial",
			order: clobOrder{ID: "0x1", Status: "live", OriginalSize: "10", SizeMatched: "3"},
			want:  model.OrderStatusPartiallyFilled,
		},
		{
			name:  "delayed behaves like live",
			order: clobOrder{ID: "0x1", Status: "delayed", OriginalSize: "10", SizeMatched: "0"},
			want:  model.OrderStatusAcknowledged,
		},
		{
			name:  "canceled with no fill failed",
			order: clobOrder{ID: "0x1", Status: "canceled", OriginalSize: "10", SizeMatched: "0"},
			want:  model.OrderStatusFailed,
		},
		{
			name:  "canceled after partial fill keeps the fill",
			order: clobOrder{ID: "0x1", Status: "canceled", OriginalSize: "10", SizeMatched: "2"},
			want:  model.OrderStatusPartiallyFilled,
		},
		{
			name:  "unmatched is failed",
			order: clobOrder{ID: "0x1", Status: "unmatched", OriginalSize: "10", SizeMatched: "0"},
			want:  model.OrderStatusFailed,
		},
		{
			name:  "uppercase venue status",
			order: clobOrder{ID: "0x1", Status: "MATCHED", OriginalSize: "10", SizeMatched: "10"},
			want:  model.OrderStatusFilled,
		},
		{
			name:  "unrecognized status stays unknown",
			order: clobOrder{ID: "0x1", Status: "settling", OriginalSize: "10", SizeMatched: "0"},
			want:  model.OrderStatusUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := mapOrderStatus(tt.order)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.Status != tt.want {
				t.Fatalf("status = %q, want %q", status.Status, tt.want)
			}
			if status.ExchangeOrderID != tt.order.ID {
				t.Fatalf("exchange order id lost: %q", status.ExchangeOrderID)
			}
			if status.RawStatus != tt.order.Status {
				t.Fatalf("raw status lost: %q", status.RawStatus)
			}
		})
	}
}

func TestMapOrderStatusToleratesEmptySizes(t *testing.T) {
	status, err := mapOrderStatus(clobOrder{ID: "0x1", Status: "live"})
	if err != nil {
		t.Fatalf("empty sizes should default to zero, got %v", err)
	}
	if status.Status != model.OrderStatusAcknowledged {
		t.Fatalf("status = %q, want acknowledged", status.Status)
	}
}

func TestMapOrderStatusRejectsGarbageSizes(t *testing.T) {
	if _, err := mapOrderStatus(clobOrder{ID: "0x1", Status: "live", OriginalSize: "ten"}); err == nil {
		t.Fatalf("expected error for non-numeric size")
	}
}

func TestResolveCredentialsDecryptsAtRest(t *testing.T) {
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", "unit-test-passphrase")

	sealedKey, err := security.EncryptString("key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sealedSecret, err := security.EncryptString("c2VjcmV0LWJ5dGVz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sealedPassphrase, err := security.EncryptString("phrase-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	config := Config{
		APIKey:               sealedKey,
		APISecret:            sealedSecret,
		APIPassphrase:        sealedPassphrase,
		FunderAddress:        "0xfunder",
		CredentialsEncrypted: true,
	}

	creds, err := resolveCredentials(config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.apiKey != "key-1" || creds.apiSecret != "c2VjcmV0LWJ5dGVz" || creds.passphrase != "phrase-1" {
		t.Fatalf("credentials not decrypted: %+v", creds)
	}
	if creds.address != "0xfunder" {
		t.Fatalf("funder address lost: %q", creds.address)
	}
}

func TestResolveCredentialsPassthroughWhenPlaintext(t *testing.T) {
	config := Config{APIKey: "key-1", APISecret: "secret-1", APIPassphrase: "phrase-1"}

	creds, err := resolveCredentials(config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.apiKey != "key-1" || creds.apiSecret != "secret-1" || creds.passphrase != "phrase-1" {
		t.Fatalf("plaintext credentials must pass through unchanged: %+v", creds)
	}
}

func TestResolveCredentialsRejectsBadCiphertext(t *testing.T) {
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", "unit-test-passphrase")

	config := Config{APIKey: "not-a-ciphertext", CredentialsEncrypted: true}
	if _, err := resolveCredentials(config); err == nil {
		t.Fatalf("expected error for undecryptable credential")
	}
}
