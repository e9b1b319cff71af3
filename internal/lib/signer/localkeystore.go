package signer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/stakemesh/harvester/internal/lib/ledger"
	"github.com/stakemesh/harvester/internal/lib/misc"
)

// NewLocalKeyStore loads signing seeds from the environment (vars prefixed
// HARVESTER_SEED, possibly via .env files) and, when set, the seed file named
// by HARVESTER_SEED_FILE.
func NewLocalKeyStore(log *slog.Logger) MultipleKeySigner {
	keyStore := &localKeyStore{
		log:  log,
		keys: map[string]ed25519.PrivateKey{},
	}
	keyStore.loadFromEnvironment()
	return keyStore
}

type localKeyStore struct {
	log *slog.Logger

	keys map[string]ed25519.PrivateKey
}

func (lk *localKeyStore) HasAccount(publicAddress string) bool {
	_, found := lk.keys[publicAddress]
	return found
}

func (lk *localKeyStore) FindFirstSigner(addresses []string) (string, error) {
	return findFirstSigner(lk, addresses)
}

// SignBatch encodes the batch calls into the gateway envelope and appends an
// ed25519 signature over the encoded bytes.
func (lk *localKeyStore) SignBatch(ctx context.Context, batch *ledger.SignedBatch, publicAddress string) error {
	key, found := lk.keys[publicAddress]
	if !found {
		return fmt.Errorf("key not found for address %s: %w", publicAddress, ledger.ErrSigning)
	}
	msg, err := encodeCalls(batch)
	if err != nil {
		return fmt.Errorf("encoding batch for %s: %w", publicAddress, ledger.ErrSigning)
	}
	sig := ed25519.Sign(key, msg)
	batch.Signer = publicAddress
	batch.Payload = append(msg, sig...)
	return nil
}

// encodeCalls produces the canonical byte form of the batch calls the
// gateway verifies the signature against.
func encodeCalls(batch *ledger.SignedBatch) ([]byte, error) {
	type callDTO struct {
		Kind   string `json:"kind"`
		Stash  string `json:"stash,omitempty"`
		Era    uint32 `json:"era,omitempty"`
		Page   uint32 `json:"page,omitempty"`
		PoolID uint32 `json:"poolId,omitempty"`
	}
	env := struct {
		Calls        []callDTO `json:"calls"`
		Tip          uint64    `json:"tip"`
		MortalPeriod uint64    `json:"mortalPeriod"`
	}{
		Tip:          batch.Tip,
		MortalPeriod: batch.MortalPeriod,
	}
	for _, t := range batch.Tasks {
		env.Calls = append(env.Calls, callDTO{
			Kind:   t.Kind.String(),
			Stash:  t.Stash,
			Era:    uint32(t.Era),
			Page:   uint32(t.Page),
			PoolID: t.PoolID,
		})
	}
	return json.Marshal(env)
}

// loadFromEnvironment loads hex seeds from env vars starting with
// "HARVESTER_SEED" and the optional seed file.  The number of loaded keys is
// logged, never the material itself.  A malformed seed is fatal - running
// with a partial keyset silently skips targets.
func (lk *localKeyStore) loadFromEnvironment() {
	var numSeeds int
	for _, envVal := range os.Environ() {
		if !strings.HasPrefix(envVal, "HARVESTER_SEED") {
			continue
		}
		key := envVal[0:strings.IndexByte(envVal, '=')]
		if key == "HARVESTER_SEED_FILE" {
			continue
		}
		// os.Environ is unordered; an empty var must not end the scan early.
		envSeed := os.Getenv(key)
		if envSeed == "" {
			continue
		}
		if err := lk.addSeed(envSeed); err != nil {
			lk.log.Error(fmt.Sprintf("fatal error in seed load, env key:%s, err:%v", key, err))
			os.Exit(1)
		}
		numSeeds++
	}
	if seedFile := os.Getenv("HARVESTER_SEED_FILE"); seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			lk.log.Error(fmt.Sprintf("fatal error reading seed file:%s, err:%v", seedFile, err))
			os.Exit(1)
		}
		if err := lk.addSeed(strings.TrimSpace(string(data))); err != nil {
			lk.log.Error(fmt.Sprintf("fatal error in seed file load:%s, err:%v", seedFile, err))
			os.Exit(1)
		}
		numSeeds++
	}
	misc.Infof(lk.log, "loaded %d signing seeds", numSeeds)
}

func (lk *localKeyStore) addSeed(hexSeed string) error {
	seed, err := hex.DecodeString(strings.TrimPrefix(hexSeed, "0x"))
	if err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	address := PublicAddress(key.Public().(ed25519.PublicKey))
	lk.keys[address] = key
	misc.Infof(lk.log, "added key for address:%s", address)
	return nil
}

// PublicAddress renders a public key in the gateway's address form.
func PublicAddress(pub ed25519.PublicKey) string {
	return "0x" + hex.EncodeToString(pub)
}
