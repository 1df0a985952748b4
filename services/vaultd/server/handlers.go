package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"epochvault/core"
	"epochvault/core/epoch"
	vaulterrors "epochvault/core/errors"
	"epochvault/crypto"
	"epochvault/native/vault"
	"epochvault/observability"
	"epochvault/observability/logging"
)

const maxBodyBytes = 1 << 20

type vaultResponse struct {
	Name string `json:"name"`
	*vault.Vault
}

func newVaultResponse(v *vault.Vault) vaultResponse {
	return vaultResponse{Name: v.Name.String(), Vault: v}
}

type infoResponse struct {
	core.GenesisAddresses
	VaultProgram crypto.Address `json:"vaultProgram"`
	Operator     crypto.Address `json:"operator"`
	Faucet       crypto.Address `json:"faucet"`
	DevFaucet    bool           `json:"devFaucet"`
	Now          int64          `json:"now"`
}

// CreateVaultRequest is the body of POST /v1/vaults.
type CreateVaultRequest struct {
	Name             string         `json:"name"`
	UnderlyingMint   crypto.Address `json:"underlyingMint"`
	OperatingBalance uint64         `json:"operatingBalance"`
	Bumps            vault.Bumps    `json:"bumps"`
	Schedule         epoch.Schedule `json:"schedule"`
}

// DepositRequest is the body of POST /v1/vaults/{name}/deposit.
type DepositRequest struct {
	Source crypto.Address `json:"source"`
	Amount uint64         `json:"amount"`
}

// WithdrawRequest is the body of POST /v1/vaults/{name}/withdraw.
type WithdrawRequest struct {
	Destination crypto.Address `json:"destination"`
	Claims      uint64         `json:"claims"`
}

// RolloverRequest is the body of POST /v1/vaults/{name}/rollover. Without a
// schedule the current one is advanced by whole cadences past now.
type RolloverRequest struct {
	Schedule *epoch.Schedule `json:"schedule,omitempty"`
}

// FaucetRequest is the body of POST /v1/faucet.
type FaucetRequest struct {
	Native uint64 `json:"native"`
	Amount uint64 `json:"amount"`
}

// FaucetResponse reports the credited underlying account.
type FaucetResponse struct {
	Account crypto.Address `json:"account"`
	Native  uint64         `json:"native"`
	Amount  uint64         `json:"amount"`
}

type claimAccountResponse struct {
	ClaimAccount crypto.Address `json:"claimAccount"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", fmt.Sprintf("invalid payload: %v", err))
		return false
	}
	return true
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing identity")
	}
	return caller, ok
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		GenesisAddresses: s.genesis,
		VaultProgram:     vault.ProgramAddress,
		Operator:         s.operator,
		Faucet:           s.faucet,
		DevFaucet:        s.devFaucet,
		Now:              epoch.Unix(s.backend.Clock()),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, s.backend.Feed().Recent(limit))
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	var out []vaultResponse
	err := s.backend.View(r.Context(), func(tx *core.Tx) error {
		vaults, err := tx.State.ListVaults()
		if err != nil {
			return err
		}
		out = make([]vaultResponse, 0, len(vaults))
		for _, v := range vaults {
			out = append(out, newVaultResponse(v))
		}
		return nil
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	var v *vault.Vault
	err := s.backend.View(r.Context(), func(tx *core.Tx) error {
		var err error
		v, err = tx.Vault.Vault(chi.URLParam(r, "name"))
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVaultResponse(v))
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	var pool *vault.PoolView
	err := s.backend.View(r.Context(), func(tx *core.Tx) error {
		var err error
		pool, err = tx.Vault.Pool(chi.URLParam(r, "name"))
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	var phase *vault.PhaseView
	err := s.backend.View(r.Context(), func(tx *core.Tx) error {
		var err error
		phase, err = tx.Vault.Phase(chi.URLParam(r, "name"))
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phase)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, string(vaulterrors.KindInvalidArgument), "owner must be an address")
		return
	}
	var position *vault.Position
	err = s.backend.View(r.Context(), func(tx *core.Tx) error {
		var err error
		position, err = tx.Vault.Position(chi.URLParam(r, "name"), owner)
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req CreateVaultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UnderlyingMint.IsZero() {
		req.UnderlyingMint = s.genesis.UnderlyingMint
	}
	var created *vault.Vault
	err := s.backend.Update(r.Context(), "create_vault", func(tx *core.Tx) error {
		var err error
		created, err = tx.Vault.CreateVault(admin, vault.CreateVaultParams{
			Name:             req.Name,
			UnderlyingMint:   req.UnderlyingMint,
			OperatingBalance: req.OperatingBalance,
			Bumps:            req.Bumps,
			Schedule:         req.Schedule,
		})
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newVaultResponse(created))
}

func (s *Server) handleOpenClaimAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	var account crypto.Address
	err := s.backend.Update(r.Context(), "open_claim_account", func(tx *core.Tx) error {
		var err error
		account, err = tx.Vault.OpenClaimAccount(owner, chi.URLParam(r, "name"))
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, claimAccountResponse{ClaimAccount: account})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	depositor, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var res *vault.DepositResult
	err := s.backend.Update(r.Context(), "deposit", func(tx *core.Tx) error {
		var err error
		res, err = tx.Vault.Deposit(depositor, chi.URLParam(r, "name"), req.Source, req.Amount)
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	depositor, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var res *vault.WithdrawResult
	err := s.backend.Update(r.Context(), "withdraw", func(tx *core.Tx) error {
		var err error
		res, err = tx.Vault.Withdraw(depositor, chi.URLParam(r, "name"), req.Destination, req.Claims)
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req RolloverRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	var rolled *vault.Vault
	err := s.backend.Update(r.Context(), "rollover", func(tx *core.Tx) error {
		next := req.Schedule
		if next == nil {
			current, err := tx.Vault.Vault(name)
			if err != nil {
				return err
			}
			computed, err := vault.NextSchedule(current.Schedule, epoch.Unix(s.backend.Clock()))
			if err != nil {
				return err
			}
			next = &computed
		}
		var err error
		rolled, err = tx.Vault.Rollover(caller, name, *next)
		return err
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	observability.Vault().RecordRollover("api")
	writeJSON(w, http.StatusOK, newVaultResponse(rolled))
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req FaucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := s.backend.Airdrop(r.Context(), s.faucet, owner, s.genesis.UnderlyingMint, req.Native, req.Amount)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "faucet airdrop", logging.MaskField("owner", owner.String()), "native", req.Native, "amount", req.Amount)
	writeJSON(w, http.StatusOK, FaucetResponse{Account: account, Native: req.Native, Amount: req.Amount})
}
