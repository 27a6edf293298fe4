package instance

import "os"

// GetID identifies the running process in logs and lock ownership. Heroku's
// DYNO is used when no explicit WORKER_ID is set.
func GetID() string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
