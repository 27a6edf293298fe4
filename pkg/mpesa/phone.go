package mpesa

import "strings"

const kenyaCountryCode = "254"

// NormalizePhone converts a Kenyan mobile number into the 2547XXXXXXXX form the
// STK push API expects. It accepts 07XXXXXXXX, 7XXXXXXXX, 1XXXXXXXX and
// 254XXXXXXXXX, with optional spaces, dashes and a leading plus.
func NormalizePhone(raw string) (string, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.NewReplacer(" ", "", "-", "").Replace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" || !allDigits(cleaned) {
		return "", false
	}

	switch {
	case len(cleaned) == 10 && cleaned[0] == '0':
		return kenyaCountryCode + cleaned[1:], true
	case len(cleaned) == 9 && (cleaned[0] == '7' || cleaned[0] == '1'):
		return kenyaCountryCode + cleaned, true
	case len(cleaned) == 12 && strings.HasPrefix(cleaned, kenyaCountryCode):
		return cleaned, true
	}
	return "", false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
