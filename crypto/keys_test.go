package crypto

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
)

func TestAddressRoundTrip(t *testing.T) {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	addr := NewAddress(buf)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, VaultPrefix+"1") {
		t.Fatalf("expected %q prefix, got %q", VaultPrefix, encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("roundtrip mismatch: %s != %s", decoded, addr)
	}
}

func TestDecodeAddressRejectsBadInput(t *testing.T) {
	if _, err := DecodeAddress("not-bech32"); err == nil {
		t.Fatal("expected error for malformed string")
	}

	conv, err := bech32.ConvertBits(make([]byte, 20), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	foreign, err := bech32.Encode("xyz", conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(foreign); err == nil {
		t.Fatal("expected error for foreign prefix")
	}
}

func TestDecodeAddressRejectsShortPayload(t *testing.T) {
	// A well-formed bech32 string whose payload is shorter than an address
	// must come back as an error, not a panic.
	conv, err := bech32.ConvertBits(make([]byte, 10), 8, 5, true)
	if err != nil {
		t.Fatalf("convert bits: %v", err)
	}
	short, err := bech32.Encode(VaultPrefix, conv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeAddress(short); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestVerifyPreimage(t *testing.T) {
	secret := []byte("open sesame")
	digest := Keccak256(secret)
	if !VerifyPreimage(digest, secret) {
		t.Fatal("expected matching preimage to verify")
	}
	if VerifyPreimage(digest, []byte("wrong")) {
		t.Fatal("expected mismatched preimage to fail")
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	pool := ModuleAddress("pool")
	if !pool.Equal(ModuleAddress("pool")) {
		t.Fatal("expected stable module address derivation")
	}
	if pool.Equal(ModuleAddress("collateral")) {
		t.Fatal("expected distinct addresses per module name")
	}
	if pool.IsZero() {
		t.Fatal("module address must not be zero")
	}
}
