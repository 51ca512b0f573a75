package secret

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	sealed, err := box.Seal("2135cf2b0985252253ba1e1e637cc208")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "2135cf2b")

	opened, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "2135cf2b0985252253ba1e1e637cc208", opened)
}

func TestBox_SealUsesFreshNonce(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	a, err := box.Seal("token")
	require.NoError(t, err)
	b, err := box.Seal("token")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestBox_OpenWithOtherKeyFails(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)
	sealed, err := box.Seal("token")
	require.NoError(t, err)

	other, err := NewBox(base64.StdEncoding.EncodeToString(make([]byte, keySize)))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBox_OpenMalformed(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	_, err = box.Open("not base64!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = box.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewBox_InvalidKey(t *testing.T) {
	_, err := NewBox(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)

	_, err = NewBox("%%%")
	assert.Error(t, err)
}
