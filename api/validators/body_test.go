package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
)

type lineRequest struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"gte=1"`
}

type bodyRequest struct {
	Phone string        `json:"phone" validate:"required,msisdn"`
	Lines []lineRequest `json:"lines" validate:"required,min=1,dive"`
	Note  string        `json:"note,omitempty" validate:"omitempty,max=5"`
}

func decode(t *testing.T, body string) (bodyRequest, *pkgerrors.Error) {
	t.Helper()
	var dest bodyRequest
	err := DecodeJSONBody(httptest.NewRequest("POST", "/", strings.NewReader(body)), &dest)
	if err == nil {
		return dest, nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	return dest, typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(t, `{"phone":"0712345678","lines":[{"sku":"maize","quantity":2}]}`)
	require.Nil(t, err)
	assert.Equal(t, "0712345678", got.Phone)
	assert.Len(t, got.Lines, 1)
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		body   string
		detail string
	}{
		"empty":         {``, "body is empty"},
		"syntax":        {`{"phone":`, ""},
		"unknown field": {`{"phone":"0712345678","lines":[{"sku":"a","quantity":1}],"extra":1}`, ""},
		"wrong type":    {`{"phone":"0712345678","lines":"nope"}`, "lines must be a []validators.lineRequest"},
		"trailing":      {`{"phone":"0712345678","lines":[{"sku":"a","quantity":1}]} {}`, "body must contain a single JSON object"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tc.body)
			require.NotNil(t, err)
			assert.Equal(t, pkgerrors.CodeValidation, err.Code())
			assert.Equal(t, "invalid request body", err.Message())
			if tc.detail != "" {
				assert.Equal(t, map[string]any{"error": tc.detail}, err.Details())
			}
		})
	}
}

func TestDecodeJSONBodyReportsFieldPaths(t *testing.T) {
	_, err := decode(t, `{"phone":"12345","lines":[{"sku":"","quantity":0}],"note":"too long"}`)
	require.NotNil(t, err)
	assert.Equal(t, "validation failed", err.Message())
	assert.Equal(t, map[string]string{
		"phone":             "must be a Kenyan mobile number",
		"lines[0].sku":      "is required",
		"lines[0].quantity": "must be greater than or equal to 1",
		"note":              "must be at most 5",
	}, err.Details())
}
