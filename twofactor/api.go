// Package twofactor drives TOTP enrollment and the post-login code challenge.
package twofactor

import (
	"context"
	"net/http"
	"strings"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

const basePath = "/api/v1/security/2fa"

// API calls the account's 2FA endpoints with the stored session.
type API struct {
	rest *rest.Client
}

// NewAPI creates an API over the shared transport.
func NewAPI(r *rest.Client) *API {
	return &API{rest: r}
}

var codeKinds = rest.Authenticated(rest.StatusKinds{
	http.StatusBadRequest: console.KindInvalidCode,
})

// Status reports whether 2FA is enabled for the signed-in account.
func (a *API) Status(ctx context.Context) (*console.TwoFactorStatus, error) {
	resp, err := a.call(ctx, "2fa_status", http.MethodGet, "/status", nil)
	if err != nil {
		return nil, err
	}
	return &console.TwoFactorStatus{Enabled: gjson.GetBytes(resp.Body, "isEnabled").Bool()}, nil
}

// Setup requests fresh enrollment material. It does not enable 2FA.
func (a *API) Setup(ctx context.Context) (*console.TwoFactorEnrollment, error) {
	resp, err := a.call(ctx, "2fa_setup", http.MethodPost, "/setup", nil)
	if err != nil {
		return nil, err
	}
	var e console.TwoFactorEnrollment
	if err := json.Unmarshal(resp.Body, &e); err != nil {
		return nil, &console.Error{Kind: console.KindUnknown, Message: "malformed setup response", Status: resp.Status, Err: err}
	}
	if e.SecretKey == "" && e.QRCodeURL == "" {
		msg := rest.Message(resp.Body)
		if msg == "" {
			msg = "setup response carried no secret"
		}
		return nil, &console.Error{Kind: console.KindUnknown, Message: msg, Status: resp.Status}
	}
	return &e, nil
}

// Enable confirms enrollment with a code from the authenticator app.
func (a *API) Enable(ctx context.Context, code string) error {
	return a.toggle(ctx, "2fa_enable", "/enable", code, true)
}

// Disable turns 2FA off. A fresh code is required even with a valid session.
func (a *API) Disable(ctx context.Context, code string) error {
	return a.toggle(ctx, "2fa_disable", "/disable", code, false)
}

// toggle submits code and checks the reported state. The server may answer 200
// with the state unchanged when it rejects the code; a 200 without any state is
// KindUnknown.
func (a *API) toggle(ctx context.Context, op, path, code string, want bool) error {
	if err := console.ValidateVerificationCode(code); err != nil {
		return err
	}
	resp, err := a.call(ctx, op, http.MethodPost, path, map[string]string{"verificationCode": code})
	if err != nil {
		return err
	}

	enabled := gjson.GetBytes(resp.Body, "isEnabled")
	if enabled.Exists() && enabled.Bool() == want {
		return nil
	}
	msg := rest.Message(resp.Body)
	if enabled.Exists() && strings.Contains(strings.ToLower(msg), "invalid") {
		return &console.Error{Kind: console.KindInvalidCode, Message: msg, Status: resp.Status}
	}
	switch {
	case msg != "":
	case !enabled.Exists():
		msg = "two-factor response carried no state"
	default:
		msg = "two-factor state was not changed"
	}
	return &console.Error{Kind: console.KindUnknown, Message: msg, Status: resp.Status}
}

func (a *API) call(ctx context.Context, op, method, path string, body any) (*rest.Response, error) {
	resp, err := a.rest.Do(ctx, rest.Request{
		Operation:     op,
		Method:        method,
		Path:          basePath + path,
		Body:          body,
		Authenticated: true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Error(codeKinds)
	}
	return resp, nil
}
