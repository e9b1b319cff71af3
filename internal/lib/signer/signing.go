package signer

import (
	"context"
	"fmt"

	"github.com/stakemesh/harvester/internal/lib/ledger"
)

// MultipleKeySigner signs batches for any address it holds key material for.
// Construct once at process start and pass explicitly - key material is
// read-only for the process lifetime and never logged or re-serialized.
type MultipleKeySigner interface {
	// HasAccount returns whether the keystore holds a key for this address.
	HasAccount(publicAddress string) bool

	// SignBatch fills batch.Signer and batch.Payload in place.  Returns an
	// error wrapping ledger.ErrSigning when the key is missing or unusable.
	SignBatch(ctx context.Context, batch *ledger.SignedBatch, publicAddress string) error

	// FindFirstSigner finds the first address in the list the keystore can
	// sign for.
	FindFirstSigner(addresses []string) (string, error)
}

// FindFirstSigner is the shared implementation backing keystores.
func findFirstSigner(ks MultipleKeySigner, addresses []string) (string, error) {
	for _, address := range addresses {
		if ks.HasAccount(address) {
			return address, nil
		}
	}
	return "", fmt.Errorf("no signing key present for any of %d candidate addresses: %w", len(addresses), ledger.ErrSigning)
}
