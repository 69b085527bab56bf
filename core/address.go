package core

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var ss58Prefix = []byte("SS58PRE")

// ValidateAddress accepts SS58 account addresses with a valid checksum and
// 0x-prefixed 20 byte addresses of ethereum-type accounts.
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrInvalidAddress
	}
	if strings.HasPrefix(address, "0x") {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: malformed hex address", ErrInvalidAddress)
		}
		return nil
	}
	return validateSS58(address)
}

func validateSS58(address string) error {
	raw, err := base58.Decode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	// Network prefixes below 64 take one byte, the rest two
	prefixLen := 1
	if len(raw) > 0 && raw[0]&0x40 != 0 {
		prefixLen = 2
	}
	if len(raw) != prefixLen+32+2 {
		return fmt.Errorf("%w: unexpected length %d", ErrInvalidAddress, len(raw))
	}

	body := raw[:len(raw)-2]
	sum := blake2b.Sum512(append(append([]byte{}, ss58Prefix...), body...))
	if !bytes.Equal(sum[:2], raw[len(raw)-2:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

// ShortAddress renders 5Grwva...utQY style abbreviations
func ShortAddress(address string) string {
	if len(address) <= 14 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
