package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"epochvault/cmd/internal/passphrase"
	"epochvault/config"
	"epochvault/crypto"
	"epochvault/services/vaultd/server"
)

const (
	envURL            = "EPOCHVAULT_URL"
	envWalletPass     = "EPOCHVAULT_WALLET_PASSPHRASE"
	envTokenIssuer    = "EPOCHVAULT_JWT_ISSUER"
	envTokenAudience  = "EPOCHVAULT_JWT_AUDIENCE"
	defaultURL        = "http://localhost:8090"
	defaultWalletPath = "./wallet.keystore"
)

// cli carries the global flags shared by every subcommand.
type cli struct {
	stdout   io.Writer
	stderr   io.Writer
	keystore string
	api      *client
	pass     *passphrase.Source
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vault-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	url := fs.String("url", envOr(envURL, defaultURL), "vaultd base URL")
	keystorePath := fs.String("keystore", defaultWalletPath, "wallet keystore used to sign requests")
	issuer := fs.String("issuer", os.Getenv(envTokenIssuer), "bearer token issuer expected by vaultd")
	audience := fs.String("audience", os.Getenv(envTokenAudience), "bearer token audience expected by vaultd")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	c := &cli{
		stdout:   stdout,
		stderr:   stderr,
		keystore: *keystorePath,
		api: newClient(*url, server.AuthOptions{
			Secret:   os.Getenv(config.EnvJWTSecret),
			Issuer:   *issuer,
			Audience: *audience,
		}, nil),
		pass: passphrase.NewSource(envWalletPass, "wallet"),
	}

	commands := map[string]func([]string) error{
		"keygen":        c.keygen,
		"address":       c.address,
		"info":          c.info,
		"vaults":        c.listVaults,
		"vault":         c.vault,
		"pool":          c.pool,
		"phase":         c.phase,
		"position":      c.position,
		"events":        c.events,
		"create-vault":  c.createVault,
		"claim-account": c.openClaimAccount,
		"deposit":       c.deposit,
		"withdraw":      c.withdraw,
		"rollover":      c.rollover,
		"faucet":        c.faucet,
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err := cmd(rest[1:]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) signer() (*crypto.PrivateKey, error) {
	pass, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(c.keystore, pass)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func usage() string {
	return strings.TrimSpace(`Usage:
  vault-cli [--url URL] [--keystore PATH] <command> [flags]

Wallet:
  keygen         Create the wallet keystore if it does not exist
  address        Print the wallet address

Queries:
  info           Genesis addresses and daemon clock
  vaults         List vaults
  vault          Show a vault record
  pool           Show pool supply and value
  phase          Show the current epoch phase
  position       Show a depositor position
  events         Show recent events

Operations (signed with the wallet key):
  create-vault   Create a vault from an epoch template
  claim-account  Open the wallet's claim account
  deposit        Deposit underlying for claims
  withdraw       Redeem claims for underlying
  rollover       Roll a closed vault onto its next epoch
  faucet         Request development funds

Signing needs EPOCHVAULT_JWT_SECRET; the wallet passphrase is read from
EPOCHVAULT_WALLET_PASSPHRASE or prompted. The secret is operator-only: it
lets its holder sign as any address, including vault admins, and the wallet
key only supplies the address.
`)
}
