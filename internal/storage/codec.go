package storage

import (
	"encoding/json"
	"fmt"

	"poolsAPI/internal/model"
)

// EncodePool serializes a pool record for a backend.
func EncodePool(pool model.Pool) ([]byte, error) {
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(pool)
}

// DecodePool parses a stored pool record.
func DecodePool(data []byte) (model.Pool, error) {
	var pool model.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return model.Pool{}, fmt.Errorf("decode pool: %w", err)
	}
	return pool, nil
}

// EncodeToken serializes a token record for a backend.
func EncodeToken(token model.Token) ([]byte, error) {
	if token.Address == "" {
		return nil, fmt.Errorf("token address is required")
	}
	return json.Marshal(token)
}

// DecodeToken parses a stored token record.
func DecodeToken(data []byte) (model.Token, error) {
	var token model.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return model.Token{}, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}
