// genkey mints credentials for operators: tenant API keys and
// argon2id hashes for ADMIN_CREDENTIAL_HASH.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/technosupport/ts-sentinel/internal/auth"
	"github.com/technosupport/ts-sentinel/internal/tenants"
)

func main() {
	adminSecret := flag.String("admin-hash", "", "Print the argon2id hash of this admin secret instead of a tenant key")
	flag.Parse()

	if *adminSecret != "" {
		hash, err := auth.HashSecret(*adminSecret)
		if err != nil {
			log.Fatalf("Hashing failed: %v", err)
		}
		fmt.Println(hash)
		return
	}

	key, err := tenants.GenerateCredential()
	if err != nil {
		log.Fatalf("Key generation failed: %v", err)
	}
	fmt.Println(key)
	fmt.Println("digest:", tenants.Digest(key))
}
