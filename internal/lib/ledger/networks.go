package ledger

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stakemesh/harvester/internal/lib/misc"
)

// NetworkConfig carries everything chain-specific: where to reach the node
// gateway, which claimed-record codec applies, and how batch dispatch behaves
// on that chain.
type NetworkConfig struct {
	Network    string
	GatewayURL string

	// Family selects the claimed-record codec (see CodecForFamily).
	Family string

	// Semantics of the chain's batching primitive - not discoverable, so
	// configured here per network.
	Semantics DispatchSemantics

	TokenSymbol   string
	TokenDecimals uint8

	// Transaction knobs passed through to SignedBatch.
	Tip          uint64
	MortalPeriod uint64

	// EraPollInterval drives the gateway's era-paid subscription polling.
	EraPollInterval time.Duration
}

func (n NetworkConfig) String() string {
	return fmt.Sprintf("Network: %s, GatewayURL: %s, Family: %s, Token: %s (%d decimals)",
		n.Network, n.GatewayURL, n.Family, n.TokenSymbol, n.TokenDecimals)
}

// GetNetworkConfig returns the preset for a network with env overrides
// applied.  HARVESTER_GATEWAY_URL and friends take precedence so operators
// can point at their own node.
func GetNetworkConfig(network string) NetworkConfig {
	cfg := getDefaults(network)

	if url := misc.GetSecret("HARVESTER_GATEWAY_URL"); url != "" {
		cfg.GatewayURL = url
	}
	if family := misc.GetSecret("HARVESTER_CHAIN_FAMILY"); family != "" {
		cfg.Family = family
	}
	if tip := misc.GetSecret("HARVESTER_TX_TIP"); tip != "" {
		cfg.Tip, _ = strconv.ParseUint(tip, 10, 64)
	}
	if mortal := misc.GetSecret("HARVESTER_TX_MORTAL_PERIOD"); mortal != "" {
		cfg.MortalPeriod, _ = strconv.ParseUint(mortal, 10, 64)
	}
	if semantics := misc.GetSecret("HARVESTER_BATCH_SEMANTICS"); semantics != "" {
		switch semantics {
		case "all-or-nothing":
			cfg.Semantics = DispatchAllOrNothing
		case "best-effort":
			cfg.Semantics = DispatchBestEffort
		}
	}
	return cfg
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{
		Network:         network,
		Semantics:       DispatchBestEffort,
		EraPollInterval: 30 * time.Second,
	}
	switch network {
	case "polkadot":
		cfg.GatewayURL = "https://polkadot-sidecar.stakemesh.net"
		cfg.Family = "relay-paged"
		cfg.TokenSymbol = "DOT"
		cfg.TokenDecimals = 10
	case "kusama":
		cfg.GatewayURL = "https://kusama-sidecar.stakemesh.net"
		cfg.Family = "relay-paged"
		cfg.TokenSymbol = "KSM"
		cfg.TokenDecimals = 12
	case "westend":
		cfg.GatewayURL = "https://westend-sidecar.stakemesh.net"
		cfg.Family = "relay-legacy"
		cfg.TokenSymbol = "WND"
		cfg.TokenDecimals = 12
	case "sandbox":
		cfg.GatewayURL = "http://localhost:8080"
		cfg.Family = "standalone"
		cfg.TokenSymbol = "UNIT"
		cfg.TokenDecimals = 12
		cfg.EraPollInterval = 2 * time.Second
	}
	return cfg
}
