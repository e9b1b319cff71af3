package harvest

import (
	"errors"
)

var (
	ErrActiveEraUnavailable = errors.New("active era not available from ledger")
	ErrNoSigner             = errors.New("no signer address configured or key missing")
)
