package login

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	http := validateURL("http", "https")
	assert.NoError(t, http("https://logbook.example.com/api"))
	assert.Error(t, http(""))
	assert.Error(t, http("logbook.example.com"))
	assert.ErrorContains(t, http("wss://logbook.example.com"), "http, https")

	ws := validateURL("ws", "wss")
	assert.NoError(t, ws("wss://logbook.example.com/ws/notifications/"))
	assert.Error(t, ws("https://logbook.example.com"))
}

func TestValidateRequired(t *testing.T) {
	v := validateRequired("Token")
	assert.EqualError(t, v("   "), "Token is required")
	assert.NoError(t, v("abc"))
}

func TestNormalize(t *testing.T) {
	f := &Fields{
		BaseURL:   " https://logbook.example.com/api/ ",
		SocketURL: " wss://logbook.example.com/ws/ ",
		Token:     "  tok\n",
	}
	f.Normalize()

	assert.Equal(t, "https://logbook.example.com/api", f.BaseURL)
	assert.Equal(t, "wss://logbook.example.com/ws/", f.SocketURL)
	assert.Equal(t, "tok", f.Token)
}

func TestNewFormBuilds(t *testing.T) {
	f := &Fields{BaseURL: "https://logbook.example.com/api"}
	require.NotNil(t, NewForm(f))
}
