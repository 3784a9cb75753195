package storesrv

import (
	"strings"
	"testing"
	"time"
)

var testSecret = []byte(strings.Repeat("s", 32))

func TestTokenRoundTrip(t *testing.T) {
	m := Member{ID: "mem_1", TeamID: "team_1", Email: "dev@acme.io"}
	token, err := MintToken(testSecret, m, time.Hour)
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.MemberID != "mem_1" || claims.TeamID != "team_1" || claims.Email != "dev@acme.io" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := MintToken(testSecret, Member{ID: "m", TeamID: "t"}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken([]byte(strings.Repeat("x", 32)), token); err == nil {
		t.Fatal("token accepted under the wrong secret")
	}
}

func TestTokenExpired(t *testing.T) {
	token, err := MintToken(testSecret, Member{ID: "m", TeamID: "t"}, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseToken(testSecret, token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestMintTokenRequiresStrongSecret(t *testing.T) {
	if _, err := MintToken([]byte("weak"), Member{ID: "m"}, time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}
