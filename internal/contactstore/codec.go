package contactstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var errDecrypt = errors.New("无法解密联系人数据")

// codec 负责联系人列表的序列化与加解密。
type codec struct {
	secret string
	random io.Reader
}

// key 由服务端密钥与账户地址派生，不同账户的密文互不相通。
func (c codec) key(account string) *[32]byte {
	sum := sha256.Sum256([]byte(c.secret + ":" + strings.ToLower(account)))
	return &sum
}

func (c codec) seal(account string, contacts []Contact) ([]byte, error) {
	if contacts == nil {
		contacts = []Contact{}
	}
	plain, err := json.Marshal(contacts)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(c.random, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, c.key(account)), nil
}

func (c codec) open(account string, blob []byte) ([]Contact, error) {
	if len(blob) < nonceSize+secretbox.Overhead {
		return nil, errDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plain, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, c.key(account))
	if !ok {
		return nil, errDecrypt
	}
	var contacts []Contact
	if err := json.Unmarshal(plain, &contacts); err != nil {
		return nil, errDecrypt
	}
	return contacts, nil
}

func defaultRandom() io.Reader { return rand.Reader }
