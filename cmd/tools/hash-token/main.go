// Command hash-token derives the PBKDF2 hash of a control API token for use
// in the camlink configuration file.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"camlink/internal/server"
)

func main() {
	var token string
	flag.StringVar(&token, "token", "", "Control token to hash")
	flag.Parse()

	if strings.TrimSpace(token) == "" {
		fatalf("--token is required")
	}
	if len(token) < 16 {
		fatalf("--token must be at least 16 characters")
	}

	hash, err := server.HashControlToken(token)
	if err != nil {
		fatalf("hash token: %v", err)
	}

	fmt.Println(hash)
	fmt.Fprintln(os.Stderr, "Set this value as control_token_hash or CAMLINK_CONTROL_TOKEN_HASH.")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
