package vault

import (
	"context"

	"github.com/pennyroute/pennyroute/internal/store"
)

// Save persists the encrypted values and the KDF salt. The store never sees
// plaintext.
func (v *Vault) Save(ctx context.Context, st store.Store) error {
	return st.SaveVaultBlob(ctx, v.Salt(), v.Export())
}

// Load restores a previously saved vault. The vault stays locked until
// Unlock is called with the master password.
func (v *Vault) Load(ctx context.Context, st store.Store) error {
	salt, data, err := st.LoadVaultBlob(ctx)
	if err != nil {
		return err
	}
	if len(salt) > 0 {
		v.SetSalt(salt)
	}
	if data != nil {
		return v.Import(data)
	}
	return nil
}
