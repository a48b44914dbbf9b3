package secretstore

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("")
	if err != nil || k != nil {
		t.Fatalf("empty: %v %v", k, err)
	}
	hexKey := strings.Repeat("ab", 32)
	k, err = ParseKey("0x" + hexKey)
	if err != nil || hex.EncodeToString(k) != hexKey {
		t.Fatalf("hex: %v %v", k, err)
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestStore_Credentials(t *testing.T) {
	key, _ := ParseKey(strings.Repeat("01", 32))
	s, err := Open(OpenOptions{Path: t.TempDir(), EncryptionKey: key})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, found, err := s.GetString("env/NOPE"); err != nil || found {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
	if err := s.SetString(VenueKey("env/", "binance", "API_KEY"), "k1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetString(VenueKey("env/", "binance", "API_SECRET"), "s1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	c, err := s.LoadCredentials("env/", "binance")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.APIKey != "k1" || c.APISecret != "s1" || c.Empty() {
		t.Fatalf("unexpected creds %+v", c)
	}
	c2, _ := s.LoadCredentials("env/", "okx")
	if !c2.Empty() {
		t.Fatalf("okx should be empty")
	}
}
