package signature

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EthereumVerifier checks personal_sign (EIP-191) signatures. The sender key is
// the signer's hex address.
type EthereumVerifier struct{}

// Verify recovers the signer of message and compares it with senderPK.
// The signature is 0x-prefixed hex in [R || S || V] form with V in {0, 1, 27, 28}.
func (EthereumVerifier) Verify(message []byte, signature, senderPK string) error {
	if !common.IsHexAddress(senderPK) {
		return fmt.Errorf("sender %q is not an ethereum address", senderPK)
	}

	raw, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(raw) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length: %d", len(raw))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, raw)
	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return fmt.Errorf("invalid recovery id: %d", v)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(senderPK) {
		return fmt.Errorf("signature recovers %s, not %s", recovered.Hex(), senderPK)
	}
	return nil
}
