// Package oauth2 interprets the identity-provider redirect that ends an OAuth2
// login. It performs no network I/O.
package oauth2

import (
	"fmt"
	"net/url"
	"strings"

	console "github.com/chimerakang/hrconsole-go"
)

// Redirect parameter names set by the server's OAuth2 success and failure handlers.
const (
	ParamToken   = "token"
	ParamUser    = "user"
	ParamError   = "error"
	ParamMessage = "message"
)

// Error codes the server places in the error parameter.
const (
	CodeFailed               = "oauth2_failed"
	CodeAuthenticationFailed = "oauth2_authentication_failed"
	CodeUserNotFound         = "user_not_found"
)

// DefaultProvider is the provider registered on the server.
const DefaultProvider = "google"

// Redirect holds the credentials carried by a successful redirect.
type Redirect struct {
	Token string
	User  string
}

// ParseRedirect decides the outcome of a redirect from its query parameters.
// A token and user yield a Redirect; otherwise an error parameter yields
// KindOAuth2Failed and anything else is KindNoCredentials.
func ParseRedirect(params url.Values) (*Redirect, error) {
	token := strings.TrimSpace(params.Get(ParamToken))
	user := strings.TrimSpace(params.Get(ParamUser))
	if token != "" && user != "" {
		return &Redirect{Token: token, User: user}, nil
	}

	if code := params.Get(ParamError); code != "" {
		msg := LoginErrorMessage(code)
		if detail := params.Get(ParamMessage); detail != "" {
			msg = fmt.Sprintf("%s (%s)", msg, detail)
		}
		return nil, &console.Error{Kind: console.KindOAuth2Failed, Message: msg}
	}
	return nil, &console.Error{Kind: console.KindNoCredentials, Message: "no token or user in redirect"}
}

// ParseRedirectURL is ParseRedirect for a full redirect URL as pasted by a user.
func ParseRedirectURL(raw string) (*Redirect, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, &console.Error{Kind: console.KindInvalidFormat, Message: "malformed redirect URL", Err: err}
	}
	return ParseRedirect(u.Query())
}

// AuthorizePath returns the server path that starts the provider's login.
func AuthorizePath(provider string) string {
	if provider == "" {
		provider = DefaultProvider
	}
	return "/oauth2/authorization/" + url.PathEscape(provider)
}

// AuthorizeURL joins baseURL and AuthorizePath.
func AuthorizeURL(baseURL, provider string) string {
	return strings.TrimRight(baseURL, "/") + AuthorizePath(provider)
}

// LoginErrorMessage maps a redirect error code to display text.
func LoginErrorMessage(code string) string {
	switch code {
	case CodeFailed:
		return "Google login failed. Please try again."
	case CodeAuthenticationFailed:
		return "Google authentication failed. Please try again."
	case CodeUserNotFound:
		return "No employee account exists for this Google user."
	default:
		return "Login failed. Please try again."
	}
}
