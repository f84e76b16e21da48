package secretbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBox_SealOpenRoundTrip(t *testing.T) {
	b := New("a passphrase")
	sealed, err := b.Seal("my-secret-token")
	require.NoError(t, err)
	require.NotEqual(t, "my-secret-token", sealed)

	opened, err := b.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "my-secret-token", opened)
}

func TestBox_ZeroValueIsPassthrough(t *testing.T) {
	var b Box
	sealed, err := b.Seal("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", sealed)

	opened, err := b.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "plain", opened)
}

func TestBox_OpenGarbageReturnsAsIs(t *testing.T) {
	b := New("a passphrase")
	opened, err := b.Open("not-valid-base64-or-ciphertext!!")
	require.NoError(t, err)
	require.Equal(t, "not-valid-base64-or-ciphertext!!", opened)
}

func TestBox_OpenWithDifferentKeyFails(t *testing.T) {
	a := New("key-one")
	b := New("key-two")
	sealedA, err := a.Seal("value")
	require.NoError(t, err)

	_, err = b.Open(sealedA)
	require.Error(t, err)
}
