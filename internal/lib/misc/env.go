package misc

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
)

func LoadEnvSettings() {
	godotenv.Load(".env.local")
	godotenv.Load() // .env
}

// LoadEnvForNetwork loads overrides specific to a network - ie: .env.kusama
// containing endpoint/seed overrides used only when harvesting that chain.
func LoadEnvForNetwork(logger *slog.Logger, network string) {
	if err := godotenv.Load(fmt.Sprintf(".env.%s", network)); err == nil {
		Infof(logger, "loaded env overrides for network:%s", network)
	}
}
