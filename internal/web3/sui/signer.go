package sui

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// secp256k1Flag is the signature scheme byte Sui prefixes to keys and
// signatures produced with secp256k1.
const secp256k1Flag byte = 0x01

// transactionIntent is the intent prefix for TransactionData, version 0 on
// the Sui app id.
var transactionIntent = []byte{0, 0, 0}

// Signer produces Sui user signatures from a secp256k1 key. It only lives
// for the duration of one delegated execution and is never persisted.
type Signer struct {
	key        *ecdsa.PrivateKey
	compressed []byte
	address    string
}

// NewSigner parses a credential. Accepted forms are a 32 byte hex key, with
// or without 0x, and the base64 keystore form of flag byte plus key.
func NewSigner(credential string) (*Signer, error) {
	raw, err := decodeCredential(strings.TrimSpace(credential))
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("无效的 secp256k1 私钥: %w", err)
	}
	compressed := crypto.CompressPubkey(&key.PublicKey)
	digest := blake2b.Sum256(append([]byte{secp256k1Flag}, compressed...))
	return &Signer{
		key:        key,
		compressed: compressed,
		address:    hexutil.Encode(digest[:]),
	}, nil
}

func decodeCredential(credential string) ([]byte, error) {
	if credential == "" {
		return nil, fmt.Errorf("私钥不能为空")
	}
	hexForm := credential
	if !strings.HasPrefix(hexForm, "0x") {
		hexForm = "0x" + hexForm
	}
	if raw, err := hexutil.Decode(hexForm); err == nil && len(raw) == 32 {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil || len(raw) != 33 {
		return nil, fmt.Errorf("无法识别的私钥格式")
	}
	if raw[0] != secp256k1Flag {
		return nil, fmt.Errorf("不支持的签名方案 0x%02x", raw[0])
	}
	return raw[1:], nil
}

// Address returns the Sui address controlled by the key.
func (s *Signer) Address() string {
	return s.address
}

// PublicKey returns the 33 byte compressed public key.
func (s *Signer) PublicKey() []byte {
	return append([]byte(nil), s.compressed...)
}

// SignTransaction signs base64 transaction bytes and returns the serialized
// base64 signature expected by sui_executeTransactionBlock.
func (s *Signer) SignTransaction(txBytes string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBytes)
	if err != nil {
		return "", fmt.Errorf("交易字节不是合法的 base64: %w", err)
	}
	hash := SigningDigest(raw)
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", fmt.Errorf("签名失败: %w", err)
	}
	serialized := make([]byte, 0, 1+64+len(s.compressed))
	serialized = append(serialized, secp256k1Flag)
	serialized = append(serialized, sig[:64]...)
	serialized = append(serialized, s.compressed...)
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// SigningDigest returns the 32 byte message a secp256k1 key signs for the
// given transaction bytes.
func SigningDigest(txBytes []byte) []byte {
	message := make([]byte, 0, len(transactionIntent)+len(txBytes))
	message = append(message, transactionIntent...)
	message = append(message, txBytes...)
	intentDigest := blake2b.Sum256(message)
	hash := sha256.Sum256(intentDigest[:])
	return hash[:]
}
