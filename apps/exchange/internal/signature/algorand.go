package signature

import (
	"encoding/base64"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// AlgorandVerifier checks ed25519 signatures made over "MX" || message by the key
// behind an Algorand address.
type AlgorandVerifier struct{}

// Verify checks a base64 ed25519 signature against the address senderPK.
func (AlgorandVerifier) Verify(message []byte, signature, senderPK string) error {
	address, err := types.DecodeAddress(senderPK)
	if err != nil {
		return fmt.Errorf("invalid algorand address %q: %w", senderPK, err)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != len(types.Signature{}) {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}

	if !crypto.VerifyBytes(address[:], message, sig) {
		return fmt.Errorf("signature does not verify for %s", senderPK)
	}
	return nil
}
