package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ResultCode accepts the provider's result code as either a JSON number or a string.
type ResultCode int

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("result code %q: %w", raw, err)
	}
	*c = ResultCode(value)
	return nil
}

// MetadataItem is one Name/Value pair of CallbackMetadata.Item. Value is kept raw so
// numeric receipts and dates survive without float rounding.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// STKCallback is the stkCallback object posted to the callback URL.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        ResultCode        `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// wireCallback differs from STKCallback only in keeping ResultCode optional, so
// an absent or null code is told apart from 0.
type wireCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *wireCallback `json:"stkCallback"`
	} `json:"Body"`
}

var (
	ErrMissingCheckoutRequestID = errors.New("callback missing CheckoutRequestID")
	ErrMissingResultCode        = errors.New("callback missing ResultCode")
)

// DecodeCallback parses a callback body. Key matching is case-insensitive, so both
// Body/body and stkCallback/StkCallback spellings decode. CheckoutRequestID and
// ResultCode are required.
func DecodeCallback(data []byte) (STKCallback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return STKCallback{}, fmt.Errorf("decode callback: %w", err)
	}
	if env.Body.STKCallback == nil {
		return STKCallback{}, errors.New("callback missing Body.stkCallback")
	}
	wire := env.Body.STKCallback
	cb := STKCallback{
		MerchantRequestID: wire.MerchantRequestID,
		CheckoutRequestID: strings.TrimSpace(wire.CheckoutRequestID),
		ResultDesc:        wire.ResultDesc,
		CallbackMetadata:  wire.CallbackMetadata,
	}
	if cb.CheckoutRequestID == "" {
		return cb, ErrMissingCheckoutRequestID
	}
	// a missing code must never read as 0 (success)
	if wire.ResultCode == nil {
		return cb, ErrMissingResultCode
	}
	cb.ResultCode = *wire.ResultCode
	return cb, nil
}

// Succeeded reports whether the buyer completed the push.
func (c STKCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// PaymentMetadata is the subset of CallbackMetadata used for reconciliation.
type PaymentMetadata struct {
	ReceiptNumber   string
	Amount          decimal.Decimal
	HasAmount       bool
	PhoneNumber     string
	TransactionDate *time.Time
}

// Metadata extracts receipt, amount, phone and transaction date. Item names are
// matched case-insensitively.
func (c STKCallback) Metadata() PaymentMetadata {
	var meta PaymentMetadata
	if c.CallbackMetadata == nil {
		return meta
	}
	for _, item := range c.CallbackMetadata.Item {
		value := itemValue(item.Value)
		if value == "" {
			continue
		}
		switch {
		case strings.EqualFold(item.Name, "MpesaReceiptNumber"):
			meta.ReceiptNumber = value
		case strings.EqualFold(item.Name, "Amount"):
			if amount, err := decimal.NewFromString(value); err == nil {
				meta.Amount = amount
				meta.HasAmount = true
			}
		case strings.EqualFold(item.Name, "PhoneNumber"):
			meta.PhoneNumber = value
		case strings.EqualFold(item.Name, "TransactionDate"):
			if ts, ok := ParseTransactionDate(value); ok {
				meta.TransactionDate = &ts
			}
		}
	}
	return meta
}

func itemValue(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return ""
	}
	// large integers such as 2.0191219102115e13 come back in exponent form from some relays
	if f, err := num.Float64(); err == nil && strings.ContainsAny(num.String(), "eE") {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return num.String()
}
