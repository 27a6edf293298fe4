package mpesa

import (
	"encoding/base64"
	"time"
)

const timestampLayout = "20060102150405"

// EAT is the provider's wall clock (UTC+3, no DST).
var EAT = time.FixedZone("EAT", 3*60*60)

// Timestamp formats t as YYYYMMDDHHMMSS in East Africa Time.
func Timestamp(t time.Time) string {
	return t.In(EAT).Format(timestampLayout)
}

// Password derives the STK push password: base64(shortcode + passkey + timestamp).
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// ParseTransactionDate reads the numeric TransactionDate from callback metadata.
func ParseTransactionDate(value string) (time.Time, bool) {
	if len(value) != len(timestampLayout) {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(timestampLayout, value, EAT)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}
