package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"yieldcredit/crypto"
	"yieldcredit/gateway/middleware"
)

const usage = `usage: creditctl <command> [flags]

commands:
  keygen   generate a secp256k1 key and print its address
  token    sign an API bearer token for an address or key
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = keygen()
	case "token":
		err = token(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "creditctl: %v\n", err)
		os.Exit(1)
	}
}

func keygen() error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\nprivate_key: %s\n", key.Address().Hex(), hex.EncodeToString(key.Bytes()))
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("CREDITD_JWT_SECRET"), "HS256 secret shared with creditd")
	issuer := fs.String("issuer", "creditd", "token issuer")
	subject := fs.String("sub", "", "caller address")
	keyHex := fs.String("key", "", "hex private key; its address becomes the subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var caller common.Address
	switch {
	case *keyHex != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(*keyHex, "0x"))
		if err != nil {
			return fmt.Errorf("decode key: %w", err)
		}
		key, err := crypto.PrivateKeyFromBytes(raw)
		if err != nil {
			return err
		}
		caller = key.Address()
	case *subject != "":
		addr, err := crypto.ParseAddress(*subject)
		if err != nil {
			return err
		}
		caller = addr
	default:
		return fmt.Errorf("one of --sub or --key is required")
	}

	signed, err := middleware.IssueToken(*secret, *issuer, caller, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
