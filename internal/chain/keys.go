package chain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 1
)

// ErrNoKey is returned when no operator key source is configured.
var ErrNoKey = errors.New("chain: no operator key configured")

type keyFile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the settlement operator key comes from. A raw hex key
// wins over an encrypted key file.
type KeySource struct {
	RawHex   string
	FilePath string
	Password string
}

// Configured reports whether any key source is set.
func (s KeySource) Configured() bool {
	return s.RawHex != "" || s.FilePath != ""
}

// LoadOperatorKey resolves and parses the operator's secp256k1 key.
func LoadOperatorKey(src KeySource) (*ecdsa.PrivateKey, error) {
	var keyHex string
	switch {
	case src.RawHex != "":
		keyHex = strings.TrimPrefix(src.RawHex, "0x")
	case src.FilePath != "":
		data, err := os.ReadFile(src.FilePath)
		if err != nil {
			return nil, fmt.Errorf("chain: read key file: %w", err)
		}
		keyHex, err = DecryptKey(data, src.Password)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoKey
	}

	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: parse operator key: %w", err)
	}
	return pk, nil
}

// EncryptKey seals a hex private key with a password (PBKDF2-SHA256 derived
// AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("chain: encrypt key: empty password")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: encrypt key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("chain: encrypt key: want 32 bytes, got %d", len(raw))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("chain: encrypt key: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("chain: encrypt key: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the hex key
// without a 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("chain: decrypt key: empty password")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("chain: decrypt key: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("chain: decrypt key: unsupported version %d", kf.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("chain: decrypt key: salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("chain: decrypt key: nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("chain: decrypt key: ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("chain: decrypt key (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("chain: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("chain: gcm: %w", err)
	}
	return gcm, nil
}
