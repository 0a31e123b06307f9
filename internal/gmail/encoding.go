package gmail

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeBody decodes an attachment body from the provider's transfer
// encoding: URL-safe base64, with or without padding. Standard-alphabet
// input is accepted as well since some gateways re-encode bodies.
func DecodeBody(data string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		case '+':
			return '-'
		case '/':
			return '_'
		}
		return r
	}, data)
	s = strings.TrimRight(s, "=")
	out, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode attachment body: %w", err)
	}
	return out, nil
}

// EncodeBody is the inverse of DecodeBody, producing padded URL-safe base64.
func EncodeBody(data []byte) string {
	return base64.URLEncoding.EncodeToString(data)
}
