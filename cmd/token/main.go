// Command token prints a signed instructor bearer token for local use.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"classroll/internal/auth"
	"classroll/internal/config"
)

func main() {
	cfg := config.Load()

	id := flag.Int64("id", 0, "instructor id (required)")
	email := flag.String("email", "", "instructor email claim")
	ttl := flag.Duration("ttl", cfg.AccessTTL, "token lifetime")
	flag.Parse()

	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "usage: token -id <instructor id> [-email addr] [-ttl 12h]")
		os.Exit(2)
	}

	tok, err := auth.Issue(*id, *email, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok.AccessToken)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.ExpiresAt.Format(time.RFC3339))
}
