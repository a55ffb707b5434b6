package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cypherpepe/prism/pkg/keys"
)

func TestRunGeneratesLoadableKey(t *testing.T) {
	out := filepath.Join(t.TempDir(), "key.hex")

	require.NoError(t, run("ed25519", out, false))

	sk, err := keys.LoadOrGenerateSigningKey(out)
	require.NoError(t, err)
	require.Equal(t, keys.SchemeEd25519, sk.VerifyingKey().Scheme)
}

func TestRunRefusesToOverwriteWithoutForce(t *testing.T) {
	out := filepath.Join(t.TempDir(), "key.hex")

	require.NoError(t, run("ed25519", out, false))
	require.Error(t, run("ed25519", out, false))
	require.NoError(t, run("ed25519", out, true))
}

func TestRunRejectsUnknownScheme(t *testing.T) {
	out := filepath.Join(t.TempDir(), "key.hex")
	require.Error(t, run("rot13", out, false))
}
