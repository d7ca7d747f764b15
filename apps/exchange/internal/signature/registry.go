package signature

import (
	"fmt"
	"sort"
	"strings"
)

// Supported signing platforms, as named in a submission's platform field.
const (
	PlatformEthereum = "Ethereum"
	PlatformAlgorand = "Algorand"
)

// Verifier checks a signature over message made by the holder of senderPK.
type Verifier interface {
	Verify(message []byte, signature, senderPK string) error
}

// Registry maps platform names to their signature schemes.
type Registry struct {
	verifiers map[string]Verifier
}

// NewRegistry creates a registry with every supported platform.
func NewRegistry() *Registry {
	registry := &Registry{verifiers: make(map[string]Verifier)}
	registry.Register(PlatformEthereum, EthereumVerifier{})
	registry.Register(PlatformAlgorand, AlgorandVerifier{})
	return registry
}

// Register adds or replaces the verifier for platform. Not safe for use once the
// registry is shared.
func (r *Registry) Register(platform string, verifier Verifier) {
	r.verifiers[platform] = verifier
}

// Get returns the verifier for platform (case-insensitive).
func (r *Registry) Get(platform string) (Verifier, bool) {
	if verifier, exists := r.verifiers[platform]; exists {
		return verifier, true
	}

	for name, verifier := range r.verifiers {
		if strings.EqualFold(name, platform) {
			return verifier, true
		}
	}

	return nil, false
}

// IsSupported checks if a platform is registered
func (r *Registry) IsSupported(platform string) bool {
	_, exists := r.Get(platform)
	return exists
}

// Platforms returns the registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	platforms := make([]string, 0, len(r.verifiers))
	for name := range r.verifiers {
		platforms = append(platforms, name)
	}
	sort.Strings(platforms)
	return platforms
}

// Verify renders payload into its signed message and checks signature over it with
// the scheme of platform. The rendered message is returned whenever rendering
// succeeded, so a rejected signature can be reported against what was checked.
func (r *Registry) Verify(payload []byte, signature, senderPK, platform string) ([]byte, error) {
	message, err := Message(payload)
	if err != nil {
		return nil, err
	}

	verifier, ok := r.Get(platform)
	if !ok {
		return message, fmt.Errorf("unsupported platform %q", platform)
	}
	return message, verifier.Verify(message, signature, senderPK)
}

// VerifySignature reports whether signature is valid for payload under platform.
func (r *Registry) VerifySignature(payload []byte, signature, senderPK, platform string) bool {
	_, err := r.Verify(payload, signature, senderPK, platform)
	return err == nil
}
