package validators

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
)

func TestParseQueryInt(t *testing.T) {
	cases := []struct {
		query   string
		want    int
		wantErr string
	}{
		{"", 20, ""},
		{"?limit=5", 5, ""},
		{"?limit=%20%207", 7, ""},
		{"?limit=abc", 0, "query parameter must be numeric"},
		{"?limit=0", 0, "query parameter out of range"},
		{"?limit=101", 0, "query parameter out of range"},
	}
	for _, tc := range cases {
		got, err := ParseQueryInt(httptest.NewRequest("GET", "/payments"+tc.query, nil), "limit", 20, 1, 100)
		if tc.wantErr == "" {
			require.NoError(t, err, tc.query)
			assert.Equal(t, tc.want, got, tc.query)
			continue
		}
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, tc.query)
		assert.Equal(t, tc.wantErr, typed.Message())
		assert.Equal(t, "limit", typed.Details().(map[string]any)["field"])
	}
}

func TestParseQueryBool(t *testing.T) {
	got, err := ParseQueryBool(httptest.NewRequest("GET", "/payments", nil), "unmatched")
	require.NoError(t, err)
	assert.False(t, got)

	got, err = ParseQueryBool(httptest.NewRequest("GET", "/payments?unmatched=1", nil), "unmatched")
	require.NoError(t, err)
	assert.True(t, got)

	_, err = ParseQueryBool(httptest.NewRequest("GET", "/payments?unmatched=maybe", nil), "unmatched")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryString(t *testing.T) {
	got, err := ParseQueryString(httptest.NewRequest("GET", "/payments?status=%20paid%20", nil), "status", 16)
	require.NoError(t, err)
	assert.Equal(t, "paid", got)

	_, err = ParseQueryString(httptest.NewRequest("GET", "/payments?status=aaaaaaaaaaaaaaaaaaaa", nil), "status", 16)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
