package generator

import (
	"crypto/md5" // #nosec G501 -- used for deterministic serial numbers only
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// maxRandomSerial bounds the serial numbers produced by RandomSerialNumber().
var maxRandomSerial = new(big.Int).Lsh(big.NewInt(1), 63)

// RandomSerialNumber returns a random non-negative integer rendered as
// decimal text.
func RandomSerialNumber() (string, error) {
	n, err := rand.Int(rand.Reader, maxRandomSerial)
	if err != nil {
		return "", err
	}

	return n.Text(10), nil
}

// DomainSerialNumber returns the deterministic serial number for a leaf
// certificate issued to domain: the lowercase hex MD5 digest of the domain.
//
// MD5 is a weak hash. It is only used to keep serial numbers stable across
// restarts, never for anything security sensitive.
func DomainSerialNumber(domain string) string {
	sum := md5.Sum([]byte(domain)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// ParseSerialNumber converts serial number text to the integer that is encoded
// in a certificate. The text is interpreted as hexadecimal, so decimal text
// produced by RandomSerialNumber() is also accepted.
func ParseSerialNumber(text string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(text, 16)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid serial number '%s'", text)
	}

	return n, nil
}
