package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
)

func queryParam(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func badQuery(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt returns def when key is absent and rejects values outside
// [lo, hi].
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := queryParam(r, key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badQuery(key, "query parameter must be numeric", nil)
	}
	if n < lo || n > hi {
		return 0, badQuery(key, "query parameter out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

// ParseQueryBool accepts the strconv.ParseBool spellings; absent is false.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := queryParam(r, key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badQuery(key, "query parameter must be a boolean", nil)
	}
	return b, nil
}

// ParseQueryString returns the trimmed value, rejecting anything longer
// than maxLen bytes.
func ParseQueryString(r *http.Request, key string, maxLen int) (string, error) {
	raw := queryParam(r, key)
	if maxLen > 0 && len(raw) > maxLen {
		return "", badQuery(key, "query parameter too long", map[string]any{"max": maxLen})
	}
	return raw, nil
}
