package keys

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyingKeyBase64RoundTrip(t *testing.T) {
	for _, scheme := range []Scheme{SchemeEd25519, SchemeSecp256k1} {
		var sk SigningKey
		var err error
		if scheme == SchemeEd25519 {
			sk, err = GenerateEd25519()
		} else {
			sk, err = GenerateSecp256k1()
		}
		require.NoError(t, err)

		vk := sk.VerifyingKey()
		encoded := vk.Encode()

		decoded, err := DecodeVerifyingKey(encoded)
		require.NoError(t, err)
		require.True(t, vk.Equal(decoded))
	}
}

func TestDecodeVerifyingKeyInvalidLength(t *testing.T) {
	for _, n := range []int{0, 1, 16, 31, 34, 64, 66} {
		_, err := DecodeVerifyingKey(base64.StdEncoding.EncodeToString(make([]byte, n)))
		require.Error(t, err)
	}
}

func TestSignVerify(t *testing.T) {
	for _, scheme := range []Scheme{SchemeEd25519, SchemeSecp256k1} {
		var sk SigningKey
		var err error
		if scheme == SchemeEd25519 {
			sk, err = GenerateEd25519()
		} else {
			sk, err = GenerateSecp256k1()
		}
		require.NoError(t, err)

		msg := []byte("hello prism")
		sig, err := sk.Sign(msg)
		require.NoError(t, err)

		vk := sk.VerifyingKey()
		require.NoError(t, vk.Verify(msg, sig))

		tampered := append([]byte(nil), msg...)
		tampered[0] ^= 0xFF
		require.Error(t, vk.Verify(tampered, sig))

		tamperedSig := Signature{Scheme: sig.Scheme, Raw: append([]byte(nil), sig.Raw...)}
		tamperedSig.Raw[0] ^= 0xFF
		require.Error(t, vk.Verify(msg, tamperedSig))
	}
}

func TestCrossSchemeSignatureRejected(t *testing.T) {
	edSK, err := GenerateEd25519()
	require.NoError(t, err)
	secpSK, err := GenerateSecp256k1()
	require.NoError(t, err)

	msg := []byte("cross scheme")
	secpSig, err := secpSK.Sign(msg)
	require.NoError(t, err)

	require.ErrorIs(t, edSK.VerifyingKey().Verify(msg, secpSig), ErrSchemeMismatch)
}
