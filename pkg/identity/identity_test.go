package identity_test

import (
	"strings"
	"testing"

	"github.com/hypermusic-ai/dcn-go/pkg/identity"
)

// ── accounts ──

func TestFromKeyDerivesKnownAddress(t *testing.T) {
	// The address of the curve generator key is a fixed, well-known value.
	key := "0x0000000000000000000000000000000000000000000000000000000000000001"
	acct, err := identity.FromKey(key)
	if err != nil {
		t.Fatalf("FromKey: %v", err)
	}
	want := "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	if acct.Address() != want {
		t.Fatalf("address = %q, want %q", acct.Address(), want)
	}
}

func TestFromKeyDeterministic(t *testing.T) {
	a, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := identity.FromKey(a.PrivateKeyHex())
	if err != nil {
		t.Fatalf("FromKey: %v", err)
	}
	if a.Address() != b.Address() {
		t.Fatalf("reimported address = %q, want %q", b.Address(), a.Address())
	}
}

func TestFromKeyRejectsBadInput(t *testing.T) {
	for _, key := range []string{"", "0x01", "not-hex", strings.Repeat("ab", 33)} {
		if _, err := identity.FromKey(key); err == nil {
			t.Errorf("FromKey(%q) succeeded, want error", key)
		}
	}
}

func TestFromEnv(t *testing.T) {
	acct, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	t.Setenv(identity.EnvPrivateKey, acct.PrivateKeyHex())
	fromEnv, err := identity.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if fromEnv.Address() != acct.Address() {
		t.Fatalf("FromEnv address = %q, want %q", fromEnv.Address(), acct.Address())
	}

	t.Setenv(identity.EnvPrivateKey, "")
	ephemeral, err := identity.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv without key: %v", err)
	}
	if ephemeral.Address() == acct.Address() {
		t.Fatal("ephemeral account reused the env key")
	}
}

// ── signatures ──

func TestSignAndRecover(t *testing.T) {
	acct, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msg := "Login nonce: 4fa1c3"
	sig, err := acct.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+130 {
		t.Fatalf("signature %q has unexpected shape", sig)
	}

	got, err := identity.RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if got != acct.Address() {
		t.Fatalf("recovered %q, want %q", got, acct.Address())
	}
}

func TestRecoverAcceptsLegacyV(t *testing.T) {
	acct, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msg := "Login nonce: abc"
	sig, err := acct.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	// Rewrite V from {27, 28} to {0, 1}; recovery must still work.
	var legacy string
	switch {
	case strings.HasSuffix(sig, "1b"):
		legacy = sig[:len(sig)-2] + "00"
	case strings.HasSuffix(sig, "1c"):
		legacy = sig[:len(sig)-2] + "01"
	default:
		t.Fatalf("signature %q has unexpected V byte", sig)
	}

	got, err := identity.RecoverAddress(msg, legacy)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if got != acct.Address() {
		t.Fatalf("recovered %q, want %q", got, acct.Address())
	}
}

func TestRecoverMismatchedMessage(t *testing.T) {
	acct, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sig, err := acct.SignMessage("Login nonce: one")
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	got, err := identity.RecoverAddress("Login nonce: two", sig)
	if err == nil && got == acct.Address() {
		t.Fatal("tampered message recovered the signer address")
	}
}

// ── checksumming ──

func TestChecksumAddress(t *testing.T) {
	// Reference mixed-case checksum vectors.
	for _, want := range []string{
		"0x52908400098527886E0F7030069857D2E4169EE7",
		"0x8617E340B3D01FA5F11F306F4090FD50E238070D",
		"0xde709f2102306220921060314715629080e2fb77",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	} {
		if got := identity.ChecksumAddress(strings.ToLower(want)); got != want {
			t.Errorf("ChecksumAddress(%q) = %q, want %q", strings.ToLower(want), got, want)
		}
	}
}
