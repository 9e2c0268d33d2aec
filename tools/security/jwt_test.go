package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	token, err := Generate(opts, "u1", "al", "ident-hash")
	require.NoError(t, err)

	claims, err := Verify(opts, token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UID)
	require.Equal(t, "al", claims.Alias)
	require.Equal(t, "ident-hash", claims.CharaIdent)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := Generate(DefaultOptions([]byte("right")), "u1", "", "i")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("wrong")), token)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	opts.TTL = -time.Minute
	token, err := Generate(opts, "u1", "", "i")
	require.NoError(t, err)

	_, err = Verify(opts, token)
	require.Error(t, err)
}

func TestGenerateRejectsUnknownAlg(t *testing.T) {
	opts := Options{Secret: []byte("s"), Alg: "RS256"}
	_, err := Generate(opts, "u1", "", "i")
	require.Error(t, err)
}
