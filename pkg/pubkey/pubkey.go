// Package pubkey normalises the public key encodings found in discovery documents to
// PKIX PEM.
package pubkey

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrUnsupported is returned for input that is not a recognisable public key.
var ErrUnsupported = errors.New("unsupported public key encoding")

// Normalize converts a PEM block (PKCS#1 or PKIX), a magic-envelope "RSA.m.e" string or
// base64 encoded DER into PKIX PEM.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUnsupported
	}

	if strings.Contains(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return "", fmt.Errorf("%w: bad pem block", ErrUnsupported)
		}
		return fromDER(block.Bytes)
	}

	if strings.HasPrefix(raw, "RSA.") || strings.Count(raw, ".") == 1 {
		return FromMagic(raw)
	}

	der, err := decodeBase64(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	// base64 wrapping a PEM document, as diaspora-public-key links do
	if strings.Contains(string(der), "-----BEGIN") {
		return Normalize(string(der))
	}
	return fromDER(der)
}

// Diaspora decodes the base64 href of a diaspora-public-key link.
func Diaspora(href string) (string, error) {
	decoded, err := decodeBase64(href)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return Normalize(string(decoded))
}

// FromMagic parses "RSA.<modulus>.<exponent>" or "<modulus>.<exponent>" with base64url
// segments.
func FromMagic(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) >= 3 {
		parts = parts[1:3]
	}
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: magic key needs modulus and exponent", ErrUnsupported)
	}
	m, err := decodeBase64(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: modulus: %w", ErrUnsupported, err)
	}
	e, err := decodeBase64(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: exponent: %w", ErrUnsupported, err)
	}
	return FromModulusExponent(m, e)
}

// FromModulusExponent builds a PKIX PEM RSA key from big-endian modulus and exponent bytes.
func FromModulusExponent(m, e []byte) (string, error) {
	if len(m) == 0 || len(e) == 0 {
		return "", fmt.Errorf("%w: empty modulus or exponent", ErrUnsupported)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 2 || exp.Int64() > 1<<31-1 {
		return "", fmt.Errorf("%w: exponent out of range", ErrUnsupported)
	}
	key := &rsa.PublicKey{N: new(big.Int).SetBytes(m), E: int(exp.Int64())}
	return encode(key)
}

// MagicPayload returns the key material of a magic-public-key href: the text after the last
// comma of a data: URI, or after "data:" when there is no comma. Other values are returned
// unchanged.
func MagicPayload(href string) string {
	rest, ok := strings.CutPrefix(href, "data:")
	if !ok {
		return href
	}
	if i := strings.LastIndex(rest, ","); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// Parse decodes PKIX PEM as produced by Normalize.
func Parse(pemKey string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, fmt.Errorf("%w: bad pem block", ErrUnsupported)
	}
	return parseDER(block.Bytes)
}

func fromDER(der []byte) (string, error) {
	key, err := parseDER(der)
	if err != nil {
		return "", err
	}
	return encode(key)
}

func parseDER(der []byte) (*rsa.PublicKey, error) {
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrUnsupported, key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	return key, nil
}

func encode(key *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
