package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"epochvault/core/epoch"
	"epochvault/crypto"
	"epochvault/native/token"
	"epochvault/native/vault"
	"epochvault/services/vaultd/server"
)

type infoView struct {
	UnderlyingMint crypto.Address `json:"underlyingMint"`
	Market         crypto.Address `json:"market"`
	Reserve        crypto.Address `json:"reserve"`
	VaultProgram   crypto.Address `json:"vaultProgram"`
	Operator       crypto.Address `json:"operator"`
	Faucet         crypto.Address `json:"faucet"`
	DevFaucet      bool           `json:"devFaucet"`
	Now            int64          `json:"now"`
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return errors.New("unexpected positional arguments")
	}
	return nil
}

func (c *cli) print(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, string(out))
	return err
}

func vaultPath(name string, suffix ...string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("--vault is required")
	}
	path := "/v1/vaults/" + url.PathEscape(name)
	for _, s := range suffix {
		path += "/" + s
	}
	return path, nil
}

func (c *cli) keygen(args []string) error {
	if err := parseFlags(c.flags("keygen"), args); err != nil {
		return err
	}
	pass, err := c.pass.Get()
	if err != nil {
		return err
	}
	key, created, err := crypto.LoadOrCreateKeystore(c.keystore, pass)
	if err != nil {
		return err
	}
	return c.print(map[string]interface{}{
		"address":  key.SignerAddress(),
		"keystore": c.keystore,
		"created":  created,
	})
}

func (c *cli) address(args []string) error {
	if err := parseFlags(c.flags("address"), args); err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, key.SignerAddress().String())
	return err
}

func (c *cli) fetchInfo() (*infoView, error) {
	var info infoView
	if err := c.api.get("/v1/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *cli) info(args []string) error {
	if err := parseFlags(c.flags("info"), args); err != nil {
		return err
	}
	info, err := c.fetchInfo()
	if err != nil {
		return err
	}
	return c.print(info)
}

func (c *cli) listVaults(args []string) error {
	if err := parseFlags(c.flags("vaults"), args); err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.get("/v1/vaults", &out); err != nil {
		return err
	}
	return c.print(out)
}

// query covers the single-vault read endpoints.
func (c *cli) query(name string, suffix ...string) func([]string) error {
	return func(args []string) error {
		fs := c.flags(name)
		vaultName := fs.String("vault", "", "vault name")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		path, err := vaultPath(*vaultName, suffix...)
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := c.api.get(path, &out); err != nil {
			return err
		}
		return c.print(out)
	}
}

func (c *cli) vault(args []string) error { return c.query("vault")(args) }
func (c *cli) pool(args []string) error  { return c.query("pool", "pool")(args) }
func (c *cli) phase(args []string) error { return c.query("phase", "phase")(args) }

func (c *cli) position(args []string) error {
	fs := c.flags("position")
	vaultName := fs.String("vault", "", "vault name")
	ownerFlag := fs.String("owner", "", "depositor address (defaults to the wallet)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	owner := strings.TrimSpace(*ownerFlag)
	if owner == "" {
		key, err := c.signer()
		if err != nil {
			return err
		}
		owner = key.SignerAddress().String()
	} else if _, err := crypto.DecodeAddress(owner); err != nil {
		return fmt.Errorf("--owner: %w", err)
	}
	path, err := vaultPath(*vaultName, "positions", owner)
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.get(path, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) events(args []string) error {
	fs := c.flags("events")
	limit := fs.Int("limit", 20, "number of recent events")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.get("/v1/events?limit="+strconv.Itoa(*limit), &out); err != nil {
		return err
	}
	return c.print(out)
}

func parseStart(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(time.Minute).Truncate(time.Minute), nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (c *cli) createVault(args []string) error {
	fs := c.flags("create-vault")
	name := fs.String("name", "", "vault name (1-20 bytes)")
	operating := fs.Uint64("operating", 0, "native units moved to the vault authority for account deposits")
	startRaw := fs.String("start", "", "epoch start, unix seconds or RFC3339 (default: next minute)")
	tmpl := epoch.DefaultTemplate()
	fs.DurationVar(&tmpl.DepositWindow, "deposit-window", tmpl.DepositWindow, "deposit window length")
	fs.DurationVar(&tmpl.AuctionDelay, "auction-delay", tmpl.AuctionDelay, "gap between deposits and auction")
	fs.DurationVar(&tmpl.AuctionWindow, "auction-window", tmpl.AuctionWindow, "auction window length")
	fs.DurationVar(&tmpl.SettlementDelay, "settlement-delay", tmpl.SettlementDelay, "gap between auction and settlement")
	fs.DurationVar(&tmpl.SettlementWindow, "settlement-window", tmpl.SettlementWindow, "settlement window length")
	fs.DurationVar(&tmpl.Cadence, "cadence", tmpl.Cadence, "time between epoch starts")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}
	parsed, err := vault.ParseName(*name)
	if err != nil {
		return err
	}
	info, err := c.fetchInfo()
	if err != nil {
		return err
	}
	start, err := parseStart(*startRaw, time.Unix(info.Now, 0))
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	bumps, _, err := vault.DeriveBumps(parsed, info.Market, info.Reserve)
	if err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	var out json.RawMessage
	err = c.api.post("/v1/vaults", key, server.CreateVaultRequest{
		Name:             *name,
		UnderlyingMint:   info.UnderlyingMint,
		OperatingBalance: *operating,
		Bumps:            bumps,
		Schedule:         tmpl.Build(start),
	}, &out)
	if err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) openClaimAccount(args []string) error {
	fs := c.flags("claim-account")
	vaultName := fs.String("vault", "", "vault name")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := vaultPath(*vaultName, "claim-account")
	if err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.post(path, key, nil, &out); err != nil {
		return err
	}
	return c.print(out)
}

// underlyingAccount returns flagged, or the wallet's associated underlying
// account when empty.
func (c *cli) underlyingAccount(flagged string, owner crypto.Address) (crypto.Address, error) {
	if flagged = strings.TrimSpace(flagged); flagged != "" {
		return crypto.DecodeAddress(flagged)
	}
	info, err := c.fetchInfo()
	if err != nil {
		return crypto.Address{}, err
	}
	return token.AssociatedAddress(owner, info.UnderlyingMint)
}

func (c *cli) deposit(args []string) error {
	fs := c.flags("deposit")
	vaultName := fs.String("vault", "", "vault name")
	amount := fs.Uint64("amount", 0, "underlying units to deposit")
	source := fs.String("source", "", "underlying account (defaults to the wallet's associated account)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := vaultPath(*vaultName, "deposit")
	if err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	from, err := c.underlyingAccount(*source, key.SignerAddress())
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.post(path, key, server.DepositRequest{Source: from, Amount: *amount}, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) withdraw(args []string) error {
	fs := c.flags("withdraw")
	vaultName := fs.String("vault", "", "vault name")
	claims := fs.Uint64("claims", 0, "claim tokens to redeem")
	destination := fs.String("destination", "", "underlying account (defaults to the wallet's associated account)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := vaultPath(*vaultName, "withdraw")
	if err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	to, err := c.underlyingAccount(*destination, key.SignerAddress())
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.post(path, key, server.WithdrawRequest{Destination: to, Claims: *claims}, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) rollover(args []string) error {
	fs := c.flags("rollover")
	vaultName := fs.String("vault", "", "vault name")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	path, err := vaultPath(*vaultName, "rollover")
	if err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := c.api.post(path, key, nil, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) faucet(args []string) error {
	fs := c.flags("faucet")
	native := fs.Uint64("native", 0, "native units for account deposits")
	amount := fs.Uint64("amount", 0, "underlying units")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	key, err := c.signer()
	if err != nil {
		return err
	}
	var out server.FaucetResponse
	if err := c.api.post("/v1/faucet", key, server.FaucetRequest{Native: *native, Amount: *amount}, &out); err != nil {
		return err
	}
	return c.print(out)
}
