// Command prism-keygen generates a new prover signing key and writes it
// hex-encoded to a file, in the format pkg/keys.LoadOrGenerateSigningKey
// reads at node startup.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cypherpepe/prism/pkg/keys"
)

func main() {
	var (
		scheme = flag.String("scheme", "ed25519", "key scheme: ed25519 or secp256k1")
		out    = flag.String("out", "./data/signing_key.hex", "output path for the hex-encoded signing key")
		force  = flag.Bool("force", false, "overwrite the output file if it already exists")
	)
	flag.Parse()

	if err := run(*scheme, *out, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scheme, out string, force bool) error {
	if !force {
		if _, err := os.Stat(out); err == nil {
			return fmt.Errorf("%s already exists; pass -force to overwrite", out)
		}
	}

	var sk keys.SigningKey
	var err error
	switch scheme {
	case "ed25519":
		sk, err = keys.GenerateEd25519()
	case "secp256k1":
		sk, err = keys.GenerateSecp256k1()
	default:
		return fmt.Errorf("unknown scheme %q: want ed25519 or secp256k1", scheme)
	}
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(out, []byte(sk.EncodeHex()), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	vk := sk.VerifyingKey()
	fmt.Printf("wrote %s key to %s\n", scheme, out)
	fmt.Printf("verifying key: %s\n", vk.Encode())
	return nil
}
