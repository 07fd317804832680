// Package identity implements secp256k1 wallet accounts for the DCN login
// flow: key generation and import, Ethereum-style address derivation, and
// EIP-191 personal-message signing. An *Account satisfies client.Signer.
package identity

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// EnvPrivateKey names the environment variable FromEnv reads the account key
// from.
const EnvPrivateKey = "DCN_PRIVATE_KEY"

// Account is a secp256k1 key pair with its derived address. The address is
// computed once at construction and never changes.
type Account struct {
	priv    *secp256k1.PrivateKey
	address string
}

// Generate creates an account with a fresh random key.
func Generate() (*Account, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// FromKey imports an account from a hex-encoded 32-byte private key. A
// leading "0x" is accepted and stripped.
func FromKey(hexKey string) (*Account, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	return fromPrivateKey(secp256k1.PrivKeyFromBytes(raw)), nil
}

// FromEnv imports the account from DCN_PRIVATE_KEY, or generates an ephemeral
// one when the variable is unset or empty.
func FromEnv() (*Account, error) {
	if key := os.Getenv(EnvPrivateKey); key != "" {
		return FromKey(key)
	}
	return Generate()
}

func fromPrivateKey(priv *secp256k1.PrivateKey) *Account {
	return &Account{priv: priv, address: addressOf(priv.PubKey())}
}

// Address returns the 0x-prefixed EIP-55 checksummed account address.
func (a *Account) Address() string {
	return a.address
}

// PrivateKeyHex returns the hex-encoded private key, suitable for
// DCN_PRIVATE_KEY. Handle with care.
func (a *Account) PrivateKeyHex() string {
	return hex.EncodeToString(a.priv.Serialize())
}

// SignMessage signs message with the EIP-191 personal-message scheme and
// returns the 65-byte signature as 0x-prefixed hex in R || S || V order, V in
// {27, 28}.
func (a *Account) SignMessage(message string) (string, error) {
	hash := personalHash(message)

	// SignCompact yields [V, R, S]; the wire format wants V last.
	compact := ecdsa.SignCompact(a.priv, hash, false)
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress recovers the checksummed signer address from an EIP-191
// personal-message signature. Both V conventions ({0, 1} and {27, 28}) are
// accepted.
func RecoverAddress(message, signature string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}

	v := raw[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], raw[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, personalHash(message))
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return addressOf(pub), nil
}

// personalHash computes keccak256 over the EIP-191 personal-message envelope.
func personalHash(message string) []byte {
	return keccak256([]byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(message)) + message))
}

// addressOf derives the checksummed address: the last 20 bytes of the keccak
// hash of the uncompressed public key, without its 0x04 prefix byte.
func addressOf(pub *secp256k1.PublicKey) string {
	hash := keccak256(pub.SerializeUncompressed()[1:])
	return ChecksumAddress("0x" + hex.EncodeToString(hash[12:]))
}

// ChecksumAddress applies the EIP-55 mixed-case checksum to a hex address.
// The input may be any casing, with or without the 0x prefix.
func ChecksumAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	hash := keccak256([]byte(addr))

	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c >= 'a' && c <= 'f' {
			nibble := hash[i/2] >> 4
			if i%2 == 1 {
				nibble = hash[i/2] & 0x0f
			}
			if nibble >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
