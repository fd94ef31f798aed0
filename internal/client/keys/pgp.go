package keys

import (
	"context"
	"fmt"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// DecryptionKey pairs an armored private key with its passphrase.
type DecryptionKey struct {
	PrivateKey []byte
	Passphrase []byte
}

// Decryptor decrypts and verifies an asymmetrically encrypted message using
// any of the supplied private keys, checking signatures against the
// verification keys.
type Decryptor interface {
	DecryptAndVerify(ctx context.Context, message []byte, decryptionKeys []DecryptionKey, verificationKeys [][]byte) ([]byte, error)
}

// Encryptor encrypts data to a public key and signs it with the supplied
// private keys.
type Encryptor interface {
	EncryptAndSign(ctx context.Context, data []byte, encryptionKey []byte, signingKeys []DecryptionKey) ([]byte, error)
}

// PGPCrypto implements Decryptor and Encryptor with gopenpgp.
type PGPCrypto struct{}

func (PGPCrypto) DecryptAndVerify(ctx context.Context, message []byte, decryptionKeys []DecryptionKey, verificationKeys [][]byte) ([]byte, error) {
	ring, err := decryptionRing(decryptionKeys)
	if err != nil {
		return nil, err
	}
	defer ring.ClearPrivateParams()

	verifyRing, err := verificationRing(verificationKeys)
	if err != nil {
		return nil, err
	}

	plain, err := ring.Decrypt(crypto.NewPGPMessage(message), verifyRing, crypto.GetUnixTime())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt message: %w", err)
	}
	return plain.GetBinary(), nil
}

func (PGPCrypto) EncryptAndSign(ctx context.Context, data []byte, encryptionKey []byte, signingKeys []DecryptionKey) ([]byte, error) {
	pub, err := crypto.NewKeyFromArmored(string(encryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse encryption key: %w", err)
	}
	pubRing, err := crypto.NewKeyRing(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to build encryption keyring: %w", err)
	}

	signRing, err := decryptionRing(signingKeys)
	if err != nil {
		return nil, err
	}
	defer signRing.ClearPrivateParams()

	msg, err := pubRing.Encrypt(crypto.NewPlainMessage(data), signRing)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}
	return msg.GetBinary(), nil
}

func decryptionRing(dks []DecryptionKey) (*crypto.KeyRing, error) {
	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build keyring: %w", err)
	}
	for _, dk := range dks {
		key, err := crypto.NewKeyFromArmored(string(dk.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		unlocked, err := key.Unlock(dk.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to unlock private key: %w", err)
		}
		if err := ring.AddKey(unlocked); err != nil {
			return nil, fmt.Errorf("failed to add private key: %w", err)
		}
	}
	return ring, nil
}

func verificationRing(publicKeys [][]byte) (*crypto.KeyRing, error) {
	ring, err := crypto.NewKeyRing(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build keyring: %w", err)
	}
	for _, pk := range publicKeys {
		key, err := crypto.NewKeyFromArmored(string(pk))
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		if err := ring.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add public key: %w", err)
		}
	}
	return ring, nil
}
