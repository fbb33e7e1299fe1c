package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// Prefix версия формата полезной нагрузки QR
	Prefix      = "MC1"
	checksumLen = 16
	keyLen      = 32
)

var encoding = base64.RawURLEncoding

// Claim утверждение о личности, зашитое в QR-код
type Claim struct {
	RegistrationID string `json:"rid" validate:"required,max=64"`
	EventID        string `json:"eid" validate:"required,max=64"`
	NotBefore      int64  `json:"nbf" validate:"gte=0"`
	ExpiresAt      int64  `json:"exp" validate:"required,gtfield=NotBefore"`
}

// DeriveKey получает ключ контрольной суммы из общего секрета станции
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("qr secret is empty")
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte("mealcheck/qr"), []byte("checksum/v1"))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive qr key: %w", err)
	}
	return key, nil
}

// Signer формирует полезную нагрузку QR-кодов
type Signer struct {
	key []byte
}

func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign кодирует утверждение и добавляет контрольную сумму
func (s *Signer) Sign(c Claim) (string, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal claim: %w", err)
	}
	signed := Prefix + "." + encoding.EncodeToString(body)
	return signed + "." + encoding.EncodeToString(checksum(s.key, signed)), nil
}

func checksum(key []byte, signed string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signed))
	return mac.Sum(nil)[:checksumLen]
}

func split(raw string) (signed, sum string, ok bool) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndexByte(raw, '.')
	if i <= 0 {
		return "", "", false
	}
	signed, sum = raw[:i], raw[i+1:]
	parts := strings.Split(signed, ".")
	if len(parts) != 2 || parts[0] != Prefix || parts[1] == "" || sum == "" {
		return "", "", false
	}
	return signed, sum, true
}
