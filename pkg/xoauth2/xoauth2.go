// Package xoauth2 formats the SASL XOAUTH2 initial response, letting a
// bearer token authenticate IMAP and SMTP sessions in place of a password.
package xoauth2

import (
	"fmt"

	"github.com/email-weather/oauthflow/pkg/core"
)

// InitialResponse builds the XOAUTH2 initial client response for the given
// account and bearer token:
//
//	user=<user>\x01auth=Bearer <token>\x01\x01
//
// The caller base64-encodes it as required by the mail protocol in use.
func InitialResponse(user string, token core.AccessToken) string {
	return fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", user, token.Secret())
}
