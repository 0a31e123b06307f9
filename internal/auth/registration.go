package auth

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// LoadRegistration reads the provider-issued client registration
// (credentials.json as downloaded from the Google console).
func LoadRegistration(path string, scopes ...string) (*oauth2.Config, error) {
	if path == "" {
		return nil, &gmail.AuthError{Reason: "client registration not configured"}
	}
	b, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &gmail.AuthError{Reason: fmt.Sprintf("client registration %s missing", path), Err: err}
		}
		return nil, &gmail.AuthError{Reason: "read client registration", Err: err}
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, &gmail.AuthError{Reason: "parse client registration", Err: err}
	}
	return cfg, nil
}
