package audio

import (
	"encoding/base64"
	"fmt"
)

// DecodeBase64 converts a base64 wire payload into raw bytes.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return b, nil
}

// EncodeBase64 converts raw bytes into a base64 wire payload.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
