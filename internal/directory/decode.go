package directory

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Payload is the decoded content of one contact entry.
type Payload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

// Decoder tries to interpret the raw bytes stored for a contact. The boolean
// reports whether the strategy recognised the format.
type Decoder func(raw []byte) (Payload, bool)

// DefaultDecoders is the production decoding order: the JSON document written
// by current clients, then a bare address written by early clients.
func DefaultDecoders() []Decoder {
	return []Decoder{DecodeJSON, DecodePlainAddress}
}

// minPlainAddressLen is the length of a full 32 byte hex address with prefix.
const minPlainAddressLen = 66

// DecodeJSON accepts {"name","address","notes"} with a 0x address.
func DecodeJSON(raw []byte) (Payload, bool) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, false
	}
	p.Address = strings.TrimSpace(p.Address)
	if !strings.HasPrefix(p.Address, "0x") {
		return Payload{}, false
	}
	return p, true
}

// DecodePlainAddress accepts UTF-8 text that is itself a full 0x address.
func DecodePlainAddress(raw []byte) (Payload, bool) {
	if !utf8.Valid(raw) {
		return Payload{}, false
	}
	text := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(text, "0x") || len(text) < minPlainAddressLen {
		return Payload{}, false
	}
	return Payload{Address: text}, true
}

func decodeWith(decoders []Decoder, raw []byte) (Payload, bool) {
	if len(raw) == 0 {
		return Payload{}, false
	}
	for _, decode := range decoders {
		if p, ok := decode(raw); ok {
			return p, true
		}
	}
	return Payload{}, false
}

// byteVector decodes a Move vector<u8>, which the node renders as an array of
// numbers. Base64 strings are accepted as well.
type byteVector []byte

func (b *byteVector) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("vector<u8> string is not base64: %w", err)
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("vector<u8> element %d out of range", n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// u64 decodes a Move u64, rendered by the node as a decimal string.
type u64 uint64

func (u *u64) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	if text == "" || text == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return err
	}
	*u = u64(v)
	return nil
}

// addressBookFields mirrors the JSON layout of an AddressBook object whose
// contacts live in a VecMap<String, Contact>.
type addressBookFields struct {
	Owner        string `json:"owner"`
	ContactCount u64    `json:"contact_count"`
	Contacts     struct {
		Fields struct {
			Contents []struct {
				Fields struct {
					Key   string `json:"key"`
					Value struct {
						Fields contactFields `json:"fields"`
					} `json:"value"`
				} `json:"fields"`
			} `json:"contents"`
		} `json:"fields"`
	} `json:"contacts"`
}

type contactFields struct {
	EncryptedData byteVector `json:"encrypted_data"`
	Nonce         byteVector `json:"nonce"`
	CreatedAt     u64        `json:"created_at"`
	UpdatedAt     u64        `json:"updated_at"`
}
