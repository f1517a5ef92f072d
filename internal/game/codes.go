package game

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// CodeLength is the number of characters in a game code.
	CodeLength = 4

	// CodeChars excludes characters that are easy to confuse (0/O, 1/I).
	CodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	maxCodeAttempts = 20
)

// GenerateCode returns a random game code.
func GenerateCode() (string, error) {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeChars))))
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		code[i] = CodeChars[n.Int64()]
	}
	return string(code), nil
}

// uniqueCode draws codes until one is free in the store.
func uniqueCode(ctx context.Context, store Store) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		exists, err := store.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("checking code %s: %w", code, err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}
