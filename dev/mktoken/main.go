package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pborman/uuid"
)

// The mktoken tool mints a session token for manual testing against a server
// started with the same --jwt-secret and --jwt-issuer.

var (
	secret   = flag.String("secret", "", "HMAC secret, same as the server's --jwt-secret")
	issuer   = flag.String("issuer", "konnectd", "token issuer")
	identity = flag.String("identity", "alice", "subject identity")
	ttl      = flag.Duration("ttl", 24*time.Hour, "token lifetime")
)

func main() {
	flag.Parse()

	if *secret == "" {
		panic("--secret is required.")
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   *identity,
		Issuer:    *issuer,
		ID:        uuid.New(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	})

	out, err := token.SignedString([]byte(*secret))
	if err != nil {
		panic(err)
	}
	fmt.Println(out)
}
