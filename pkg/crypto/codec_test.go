package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestIdentifierCodec_SealedRoundTrip(t *testing.T) {
	codec, err := NewIdentifierCodec(testKeyHex)
	require.NoError(t, err)

	encoded, err := codec.Encode("traveller@example.com")
	require.NoError(t, err)
	assert.NotContains(t, encoded, "traveller")

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "traveller@example.com", decoded)
}

func TestIdentifierCodec_PlainWithoutKey(t *testing.T) {
	codec, err := NewIdentifierCodec("")
	require.NoError(t, err)

	encoded, err := codec.Encode("guest@example.com")
	require.NoError(t, err)

	decoded, err := codec.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", decoded)
}

func TestIdentifierCodec_Errors(t *testing.T) {
	_, err := NewIdentifierCodec("abcd")
	require.ErrorIs(t, err, ErrInvalidAESKeySize)

	_, err = NewIdentifierCodec("not-hex")
	require.Error(t, err)

	codec, err := NewIdentifierCodec(testKeyHex)
	require.NoError(t, err)

	_, err = codec.Decode("%%%")
	require.ErrorIs(t, err, ErrInvalidEncodedFormat)

	_, err = codec.Decode("YWJj") // "abc", shorter than a nonce
	require.ErrorIs(t, err, ErrCiphertextTooShort)

	other, err := NewIdentifierCodec(strings.Repeat("ff", 32))
	require.NoError(t, err)
	foreign, err := other.Encode("someone@example.com")
	require.NoError(t, err)
	_, err = codec.Decode(foreign)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSha256Hex(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sha256Hex(""))
	assert.Len(t, Sha256Hex("session-1"), 64)
}
