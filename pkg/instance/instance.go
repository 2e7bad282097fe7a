package instance

import (
	"os"
	"strings"
)

// GetID returns the process identifier used in log fields. DYNO takes
// precedence over WORKER_ID; fallback is used when neither is set.
func GetID(fallback string) string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return fallback
}
