package state

import (
	"math/big"

	"epochvault/crypto"
	"epochvault/native/lending"
)

func marketKey(addr crypto.Address) []byte {
	return prefixedKey(marketPrefix, addr.Bytes())
}

func reserveKey(addr crypto.Address) []byte {
	return prefixedKey(reservePrefix, addr.Bytes())
}

func obligationKey(addr crypto.Address) []byte {
	return prefixedKey(obligationPrefix, addr.Bytes())
}

// GetMarket loads a lending market.
func (m *Manager) GetMarket(addr crypto.Address) (*lending.Market, bool, error) {
	var market lending.Market
	ok, err := m.KVGet(marketKey(addr), &market)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &market, true, nil
}

// PutMarket stores a lending market.
func (m *Manager) PutMarket(market *lending.Market) error {
	return m.KVPut(marketKey(market.Address), market)
}

// GetReserve loads a lending reserve.
func (m *Manager) GetReserve(addr crypto.Address) (*lending.Reserve, bool, error) {
	var reserve lending.Reserve
	ok, err := m.KVGet(reserveKey(addr), &reserve)
	if err != nil || !ok {
		return nil, ok, err
	}
	if reserve.BorrowIndex == nil {
		reserve.BorrowIndex = big.NewInt(0)
	}
	if reserve.ProtocolFees == nil {
		reserve.ProtocolFees = big.NewInt(0)
	}
	return &reserve, true, nil
}

// PutReserve stores a lending reserve.
func (m *Manager) PutReserve(reserve *lending.Reserve) error {
	return m.KVPut(reserveKey(reserve.Address), reserve)
}

// GetObligation loads a lending obligation.
func (m *Manager) GetObligation(addr crypto.Address) (*lending.Obligation, bool, error) {
	var obligation lending.Obligation
	ok, err := m.KVGet(obligationKey(addr), &obligation)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &obligation, true, nil
}

// PutObligation stores a lending obligation.
func (m *Manager) PutObligation(obligation *lending.Obligation) error {
	return m.KVPut(obligationKey(obligation.Address), obligation)
}

// DeleteObligation removes a lending obligation.
func (m *Manager) DeleteObligation(addr crypto.Address) error {
	return m.KVDelete(obligationKey(addr))
}
