package tokens_test

import (
	"testing"
	"time"

	"github.com/technosupport/ts-sentinel/internal/tokens"
)

func TestFeedTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	tenantID := "tenant-abc"

	token, expires, err := mgr.GenerateFeedToken(tenantID)
	if err != nil {
		t.Fatalf("Failed to generate feed token: %v", err)
	}
	if time.Until(expires) > 10*time.Minute {
		t.Errorf("Expiry too far out: %v", expires)
	}

	claims, err := mgr.ValidateFeedToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.TenantID != tenantID {
		t.Errorf("Expected TenantID %s, got %s", tenantID, claims.TenantID)
	}
	if claims.TokenType != tokens.Feed {
		t.Errorf("Expected TokenType %s, got %s", tokens.Feed, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _, err := mgr1.GenerateFeedToken("tenant-abc")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	if _, err := mgr2.ValidateFeedToken(token); err == nil {
		t.Error("Expected validation to fail with wrong key")
	}
}

func TestGarbageToken(t *testing.T) {
	mgr := tokens.NewManager("secret")
	if _, err := mgr.ValidateFeedToken("not-a-jwt"); err == nil {
		t.Error("Expected validation to fail for garbage input")
	}
}
