package evm

import (
	"crypto/ecdsa"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// WithKeystore loads the owner key from an encrypted V3 keystore file.
func WithKeystore(path, password string) SignerOption {
	return func(s *Signer) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
		}
		return WithKeystoreJSON(data, password)(s)
	}
}

// WithKeystoreJSON loads the owner key from keystore JSON already in memory.
func WithKeystoreJSON(data []byte, password string) SignerOption {
	return func(s *Signer) error {
		key, err := keystore.DecryptKey(data, password)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
		}
		s.privateKey = key.PrivateKey
		return nil
	}
}

// WithMnemonic derives the owner key from a BIP39 phrase at m/44'/60'/0'/0/{index}.
func WithMnemonic(mnemonic string, index uint32) SignerOption {
	return func(s *Signer) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return ErrInvalidMnemonic
		}

		privateKey, err := deriveKey(bip39.NewSeed(mnemonic, ""), index)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
		}
		s.privateKey = privateKey
		return nil
	}
}

func deriveKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		index,
	}
	for _, child := range path {
		if key, err = key.NewChildKey(child); err != nil {
			return nil, err
		}
	}
	return crypto.ToECDSA(key.Key)
}
