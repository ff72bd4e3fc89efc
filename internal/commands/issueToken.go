package commands

import (
	"fmt"
	"io"

	"vaani/internal/auth"
	"vaani/internal/config"
	"vaani/internal/content"

	"github.com/pkg/errors"
)

// IssueToken signs an access token for userID with the configured secret and
// prints it, so a client can be pointed at the relay without the REST service.
func IssueToken(w io.Writer, userID string, cfg *config.Config) error {
	if err := content.ValidateUserID(userID); err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:      cfg.JWTSecret,
		TokenExpiry: cfg.JWTExpiry,
	})
	if err != nil {
		return err
	}

	token, err := authenticator.Issue(userID)
	if err != nil {
		return errors.Wrap(err, "issue token")
	}

	_, err = fmt.Fprintf(w, "\nToken for %s (valid %s):\n\n%s\n\n", userID, cfg.JWTExpiry, token)
	return err
}
