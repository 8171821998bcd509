package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

type keyPairFile struct {
	PublicKey string `json:"publicKey"`
	SecretKey string `json:"secretKey"`
}

func GenerateKeyPair() (KeyPair, error) {
	publicKey, secretKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("error generating key pair: %w", err)
	}
	return KeyPair{PublicKey: publicKey, SecretKey: secretKey}, nil
}

func (k KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey)
}

// LoadOrCreateKeyPair reads the key pair stored at path, generating and persisting one first if
// the file does not exist.
func LoadOrCreateKeyPair(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		keyPair, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, err
		}
		if err := saveKeyPair(path, keyPair); err != nil {
			return KeyPair{}, err
		}
		return keyPair, nil
	}
	if err != nil {
		return KeyPair{}, fmt.Errorf("error reading key file %s: %w", path, err)
	}

	var stored keyPairFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return KeyPair{}, fmt.Errorf("error parsing key file %s: %w", path, err)
	}
	publicKey, err := hex.DecodeString(stored.PublicKey)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return KeyPair{}, fmt.Errorf("%w: bad public key in %s", ErrInvalidKeyFile, path)
	}
	secretKey, err := hex.DecodeString(stored.SecretKey)
	if err != nil || len(secretKey) != ed25519.PrivateKeySize {
		return KeyPair{}, fmt.Errorf("%w: bad secret key in %s", ErrInvalidKeyFile, path)
	}
	return KeyPair{PublicKey: publicKey, SecretKey: secretKey}, nil
}

func saveKeyPair(path string, keyPair KeyPair) error {
	data, err := json.Marshal(keyPairFile{
		PublicKey: hex.EncodeToString(keyPair.PublicKey),
		SecretKey: hex.EncodeToString(keyPair.SecretKey),
	})
	if err != nil {
		return fmt.Errorf("error marshaling key pair: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("error creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing key file %s: %w", path, err)
	}
	return nil
}

var ErrInvalidKeyFile = errors.New("invalid key file")
