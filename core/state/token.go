package state

import (
	"epochvault/crypto"
	"epochvault/native/token"
)

func mintKey(addr crypto.Address) []byte {
	return prefixedKey(mintPrefix, addr.Bytes())
}

func tokenAccountKey(addr crypto.Address) []byte {
	return prefixedKey(tokenAccountPrefix, addr.Bytes())
}

// GetMint loads a mint.
func (m *Manager) GetMint(addr crypto.Address) (*token.Mint, bool, error) {
	var mint token.Mint
	ok, err := m.KVGet(mintKey(addr), &mint)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &mint, true, nil
}

// PutMint stores a mint.
func (m *Manager) PutMint(mint *token.Mint) error {
	return m.KVPut(mintKey(mint.Address), mint)
}

// GetTokenAccount loads a token account.
func (m *Manager) GetTokenAccount(addr crypto.Address) (*token.Account, bool, error) {
	var account token.Account
	ok, err := m.KVGet(tokenAccountKey(addr), &account)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &account, true, nil
}

// PutTokenAccount stores a token account.
func (m *Manager) PutTokenAccount(account *token.Account) error {
	return m.KVPut(tokenAccountKey(account.Address), account)
}

// DeleteTokenAccount removes a closed token account.
func (m *Manager) DeleteTokenAccount(addr crypto.Address) error {
	return m.KVDelete(tokenAccountKey(addr))
}
