package misc

import (
	"os"
)

// GetSecret fetches a value that may have been injected via the environment
// or a loaded env file.  Kept behind a helper so an external secret store can
// be layered in later without touching callers.
func GetSecret(key string) string {
	return os.Getenv(key)
}
