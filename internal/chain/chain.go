// Package chain provides thin Solana helper types for the quote/submit
// boundary (spec.md section 6), grounded on the teacher pack's use of
// github.com/gagliardetto/solana-go for base58 public-key handling
// (DimaJoyti-ai-agentic-crypto-browser's wallet-connect handler). Wallet
// cryptography itself stays out of scope (spec.md section 1); this package
// only validates and converts addresses at the boundary.
package chain

import (
	"fmt"

	solanago "github.com/gagliardetto/solana-go"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// PublicKey wraps a validated base58 Solana address.
type PublicKey struct {
	raw solanago.PublicKey
}

// ParsePublicKey validates and wraps a base58-encoded address.
func ParsePublicKey(base58 string) (PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(base58)
	if err != nil {
		return PublicKey{}, fmt.Errorf("chain: invalid public key %q: %w", base58, err)
	}
	return PublicKey{raw: pk}, nil
}

// String returns the base58 representation.
func (p PublicKey) String() string { return p.raw.String() }

// IsZero reports whether the key is the all-zero default.
func (p PublicKey) IsZero() bool { return p.raw.IsZero() }

// TokenIdFromPublicKey derives a TokenId (the mint address) from a Solana
// public key, used wherever the on-chain mint needs to become the analyzer
// pipeline's opaque TokenId.
func TokenIdFromPublicKey(p PublicKey) types.TokenId {
	var id types.TokenId
	copy(id[:], p.raw[:])
	return id
}

// LamportsPerSOL is the number of lamports (the native Solana base unit) in
// one SOL, re-exported here so executor and
// quote code can spell it without importing solana-go directly.
const LamportsPerSOL = uint64(solanago.LAMPORTS_PER_SOL)

// WireTransaction is an opaque, already-signed-and-serialized transaction
// ready for submission; its internal encoding is the quote/submit
// provider's concern, not this core's (spec.md section 1).
type WireTransaction []byte
