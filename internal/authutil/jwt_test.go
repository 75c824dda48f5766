package authutil

import (
	"testing"
	"time"
)

func TestIssueAndValidateToken(t *testing.T) {
	token, err := IssueToken(42, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	id, err := ValidateToken(token, KindAccess)
	if err != nil {
		t.Fatalf("ValidateToken error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected subject 42, got %d", id)
	}
}

func TestValidateTokenRejectsInvalid(t *testing.T) {
	if _, err := ValidateToken("", KindAccess); err == nil {
		t.Fatalf("expected error for empty token")
	}
	token, err := IssueToken(7, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	tampered := token + "x"
	if _, err := ValidateToken(tampered, KindAccess); err == nil {
		t.Fatalf("expected error for tampered token")
	}
}

func TestValidateTokenRejectsWrongKind(t *testing.T) {
	refresh, err := IssueToken(7, KindRefresh, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if _, err := ValidateToken(refresh, KindAccess); err == nil {
		t.Fatalf("refresh token must not pass as access token")
	}
}

func TestSubjectIDWithoutVerification(t *testing.T) {
	token, err := IssueToken(7, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	id, err := SubjectID(token)
	if err != nil || id != 7 {
		t.Fatalf("SubjectID = %d, %v", id, err)
	}
	if _, err := SubjectID("not-a-jwt"); err == nil {
		t.Fatalf("expected error for garbage token")
	}
}

func TestExpired(t *testing.T) {
	token, err := IssueToken(7, KindAccess, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if Expired(token, time.Now()) {
		t.Fatalf("fresh token reported expired")
	}
	if !Expired(token, time.Now().Add(2*time.Minute)) {
		t.Fatalf("token should be expired after ttl")
	}
	if !Expired("garbage", time.Now()) {
		t.Fatalf("garbage token should count as expired")
	}
}
