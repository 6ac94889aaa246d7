package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
)

func TestNewClientValidatesKeyForEnvironment(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{"test key in test env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1"}, false},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}, false},
		{"live key in test env", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, true},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, true},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123"}, true},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tc.cfg, nil)
			if (err != nil) != tc.wantErr {
				t.Fatalf("NewClient error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestClientDefaults(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:     "sk_test_123",
		Secret:     " whsec_abc ",
		SuccessURL: "https://app.example.com/billing/success",
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.Environment() != "test" {
		t.Fatalf("expected test env, got %q", client.Environment())
	}
	if client.SigningSecret() != "whsec_abc" {
		t.Fatalf("expected trimmed secret, got %q", client.SigningSecret())
	}
	if client.SignatureTolerance() != 5*time.Minute {
		t.Fatalf("unexpected tolerance %v", client.SignatureTolerance())
	}
	if client.SuccessURL() != "https://app.example.com/billing/success" || client.CancelURL() != "" {
		t.Fatalf("unexpected redirect defaults")
	}

	var nilClient *Client
	if nilClient.SigningSecret() != "" || nilClient.SignatureTolerance() != 5*time.Minute {
		t.Fatal("nil client accessors should be safe")
	}
}
