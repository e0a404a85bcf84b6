package manager

import (
	"github.com/podgraph/pod/key"
)

// WalletKey derives the wallet key at the given index.
// Wallet keys share nothing with the keys that own pods.
func (m *Manager) WalletKey(index uint32) key.Key {
	return m.secret.WalletKey(index)
}

// AddWallet imports a wallet private key under a name.
// The key is 32 bytes of hex, optionally prefixed with 0x.
// Imported keys are sealed with the keystore password
// in a file of their own beside the keystore.
func (m *Manager) AddWallet(name, hexKey string) error {
	return m.editWallets(func(w *key.Wallets) error {
		if err := w.Add(name, hexKey); err != nil {
			return err
		}
		m.logger.WithField("wallet", name).Info("wallet key added")
		return nil
	})
}

// RemoveWallet deletes an imported wallet key.
func (m *Manager) RemoveWallet(name string) error {
	return m.editWallets(func(w *key.Wallets) error {
		return w.Remove(name)
	})
}

// SetActiveWallet makes an imported wallet key the active one.
func (m *Manager) SetActiveWallet(name string) error {
	return m.editWallets(func(w *key.Wallets) error {
		return w.SetActive(name)
	})
}

// Wallet gets an imported wallet key, in hex.
func (m *Manager) Wallet(name string) (string, error) {
	w, err := m.wallets()
	if err != nil {
		return "", err
	}
	return w.Get(name)
}

// Wallets lists the names of the imported wallet keys,
// and the name of the active one ("" if none).
func (m *Manager) Wallets() (names []string, active string, err error) {
	w, err := m.wallets()
	if err != nil {
		return nil, "", err
	}
	return w.Names(), w.Active, nil
}

func (m *Manager) wallets() (*key.Wallets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return key.LoadWalletsFile(m.walletsPath, m.password)
}

func (m *Manager) editWallets(f func(*key.Wallets) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := key.LoadWalletsFile(m.walletsPath, m.password)
	if err != nil {
		return err
	}
	if err = f(w); err != nil {
		return err
	}
	return key.SaveWalletsFile(m.walletsPath, w, m.password)
}
