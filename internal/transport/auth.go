package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const nonceSize = 32

const (
	clientProofContext = "swarmtrace/client-proof/"
	serverProofContext = "swarmtrace/server-proof/"
)

// frameConn is the raw framing the authentication exchange runs over.
type frameConn interface {
	readFrame() ([]byte, error)
	writeFrame(data []byte) error
}

type helloMessage struct {
	PublicKey string `json:"publicKey"`
	Nonce     string `json:"nonce"`
}

type challengeMessage struct {
	PublicKey string `json:"publicKey"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

type proofMessage struct {
	Signature string `json:"signature"`
}

// authenticateAsClient proves the local identity to the server and verifies the server's identity.
// expectedServer may be nil to accept any server key.
func authenticateAsClient(conn frameConn, keyPair KeyPair, expectedServer []byte) ([]byte, error) {
	clientNonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	if err := writeJSON(conn, helloMessage{PublicKey: keyPair.PublicKeyHex(), Nonce: hex.EncodeToString(clientNonce)}); err != nil {
		return nil, err
	}

	var challenge challengeMessage
	if err := readJSON(conn, &challenge); err != nil {
		return nil, err
	}
	serverKey, err := decodeKey(challenge.PublicKey)
	if err != nil {
		return nil, err
	}
	if expectedServer != nil && !bytes.Equal(serverKey, expectedServer) {
		return nil, ErrUnexpectedId
	}
	if !verify(serverKey, serverProofContext, clientNonce, keyPair.PublicKey, challenge.Signature) {
		return nil, fmt.Errorf("%w: bad server signature", ErrAuthFailed)
	}

	serverNonce, err := hex.DecodeString(challenge.Nonce)
	if err != nil || len(serverNonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad server nonce", ErrAuthFailed)
	}
	signature := sign(keyPair.SecretKey, clientProofContext, serverNonce, serverKey)
	if err := writeJSON(conn, proofMessage{Signature: signature}); err != nil {
		return nil, err
	}
	return serverKey, nil
}

func authenticateAsServer(conn frameConn, keyPair KeyPair) ([]byte, error) {
	var hello helloMessage
	if err := readJSON(conn, &hello); err != nil {
		return nil, err
	}
	clientKey, err := decodeKey(hello.PublicKey)
	if err != nil {
		return nil, err
	}
	clientNonce, err := hex.DecodeString(hello.Nonce)
	if err != nil || len(clientNonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad client nonce", ErrAuthFailed)
	}

	serverNonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	err = writeJSON(conn, challengeMessage{
		PublicKey: keyPair.PublicKeyHex(),
		Nonce:     hex.EncodeToString(serverNonce),
		Signature: sign(keyPair.SecretKey, serverProofContext, clientNonce, clientKey),
	})
	if err != nil {
		return nil, err
	}

	var proof proofMessage
	if err := readJSON(conn, &proof); err != nil {
		return nil, err
	}
	if !verify(clientKey, clientProofContext, serverNonce, keyPair.PublicKey, proof.Signature) {
		return nil, fmt.Errorf("%w: bad client signature", ErrAuthFailed)
	}
	return clientKey, nil
}

func sign(secretKey ed25519.PrivateKey, context string, nonce []byte, peerKey []byte) string {
	return hex.EncodeToString(ed25519.Sign(secretKey, proofPayload(context, nonce, peerKey)))
}

func verify(publicKey []byte, context string, nonce []byte, peerKey []byte, signatureHex string) bool {
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, proofPayload(context, nonce, peerKey), signature)
}

func proofPayload(context string, nonce []byte, peerKey []byte) []byte {
	payload := make([]byte, 0, len(context)+len(nonce)+len(peerKey))
	payload = append(payload, context...)
	payload = append(payload, nonce...)
	return append(payload, peerKey...)
}

func decodeKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: malformed public key", ErrAuthFailed)
	}
	return key, nil
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}
	return nonce, nil
}

func writeJSON(conn frameConn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling auth message: %w", err)
	}
	if err := conn.writeFrame(data); err != nil {
		return fmt.Errorf("error writing auth message: %w", err)
	}
	return nil
}

func readJSON(conn frameConn, v interface{}) error {
	data, err := conn.readFrame()
	if err != nil {
		return fmt.Errorf("error reading auth message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed auth message", ErrAuthFailed)
	}
	return nil
}
