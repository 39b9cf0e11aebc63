// Package main is a development utility that prints a random passphrase for
// auth.api_keys.encryption_key. Issued API keys are sealed with a key derived
// from it, so it must stay stable for as long as the database holds keys.
package main

import (
	"encoding/base64"
	"fmt"
	"log"

	"github.com/PoyrazK/Mini-AWS/internal/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}
	passphrase := base64.RawURLEncoding.EncodeToString(key)

	// Round-trip once so a broken build fails here rather than at server start.
	sealer, err := crypto.DeriveSealer(passphrase)
	if err != nil {
		log.Fatal(err)
	}
	sealed, err := sealer.Seal("probe")
	if err != nil {
		log.Fatal(err)
	}
	if opened, err := sealer.Open(sealed); err != nil || opened != "probe" {
		log.Fatalf("sealer round trip failed: %v", err)
	}

	fmt.Println("==========================================================")
	fmt.Println("API key encryption passphrase")
	fmt.Println("==========================================================")
	fmt.Printf("\nMINIAWS_AUTH_API_KEYS_ENCRYPTION_KEY=%s\n\n", passphrase)
	fmt.Println("Store it with your other secrets. Changing it makes every")
	fmt.Println("issued API key unreadable; affected accounts must rotate.")
	fmt.Println("==========================================================")
}
