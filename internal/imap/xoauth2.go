package imap

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// Xoauth2 is the SASL mechanism name Gmail and Outlook accept for bearer
// tokens over IMAP.
const Xoauth2 = "XOAUTH2"

type xoauth2Client struct {
	username string
	token    string

	// failure holds the JSON status the server sends as a challenge when it
	// rejects the token.
	failure []byte
}

// NewXoauth2Client returns a sasl.Client for the XOAUTH2 mechanism.
func NewXoauth2Client(username, accessToken string) sasl.Client {
	return &xoauth2Client{username: username, token: accessToken}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := fmt.Appendf(nil, "user=%s\x01auth=Bearer %s\x01\x01", c.username, c.token)
	return Xoauth2, ir, nil
}

// Next answers the error challenge with an empty response so the server
// finishes the exchange with a tagged NO.
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	c.failure = append(c.failure[:0], challenge...)
	return []byte{}, nil
}
