package jwtpayload

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestDecode_WellFormed(t *testing.T) {
	token := segment(`{"alg":"HS512","typ":"JWT"}`) + "." +
		segment(`{"sub":"1","email":"a@test.com","role":"USER","type":"access","exp":1704067210}`) +
		".signature"

	claims, ok := Decode[Claims](token).Value()
	require.True(t, ok)
	assert.Equal(t, "1", claims.Sub)
	assert.Equal(t, "a@test.com", claims.Email)
	assert.Equal(t, "USER", claims.Role)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, int64(1704067210), claims.Exp)
}

func TestDecode_IntoMap(t *testing.T) {
	token := "h." + segment(`{"sub":"42","type":"refresh"}`)

	claims, ok := Decode[map[string]any](token).Value()
	require.True(t, ok)
	assert.Equal(t, "42", claims["sub"])
	assert.Equal(t, "refresh", claims["type"])
}

func TestDecode_PaddedAndUrlSafe(t *testing.T) {
	payload := `{"sub":"?>?>","n":1}`
	padded := base64.URLEncoding.EncodeToString([]byte(payload))

	claims, ok := Decode[map[string]any]("h." + padded + ".s").Value()
	require.True(t, ok)
	assert.Equal(t, "?>?>", claims["sub"])
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"no dots", "not-a-token"},
		{"empty", ""},
		{"invalid base64", "header.!!!.sig"},
		{"not json", "header." + segment("plain text") + ".sig"},
		{"json of wrong shape", "header." + segment(`["a","b"]`) + ".sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode[Claims](tt.token)
			assert.False(t, res.OK())
		})
	}
}

func TestExpiresAt(t *testing.T) {
	token := "h." + segment(`{"sub":"1","exp":1704067200}`) + ".s"

	exp, ok := ExpiresAt(token)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), exp)

	_, ok = ExpiresAt("h." + segment(`{"sub":"1"}`) + ".s")
	assert.False(t, ok)
}
