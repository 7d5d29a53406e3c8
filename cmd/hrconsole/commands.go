package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/auth"
	"github.com/chimerakang/hrconsole-go/guard"
	"github.com/chimerakang/hrconsole-go/oauth2"
	"github.com/chimerakang/hrconsole-go/security"
	"github.com/chimerakang/hrconsole-go/token"
	"github.com/chimerakang/hrconsole-go/twofactor"
	"github.com/pquerna/otp"
	"github.com/spf13/pflag"
)

var errCancelled = errors.New("cancelled")

// Destinations the commands are gated on.
const (
	destSecurity  = "/security"
	destSessions  = "/admin/sessions"
	destAuditLogs = "/admin/audit-logs"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":      {"sign in with email and password", cmdLogin},
		"logout":     {"sign out and forget the stored session", cmdLogout},
		"whoami":     {"show the stored session", cmdWhoami},
		"oauth2":     {"url | callback <redirect-url>", cmdOAuth2},
		"2fa":        {"status | setup [--qr-out file.png] | disable", cmdTwoFactor},
		"password":   {"change the account password", cmdPassword},
		"sessions":   {"list active sessions | terminate <id> | terminate-all", cmdSessions},
		"audit-logs": {"show the audit trail", cmdAuditLogs},
		"can":        {"check whether a destination may be opened", cmdCan},
		"menu":       {"list the pages the session may open", cmdMenu},
	}
}

func newFlags(name string, a *app) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// require turns a denied guard decision into an error.
func (a *app) require(ctx context.Context, dest string) error {
	d := a.guard.Check(ctx, dest)
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case guard.ReasonNoSession:
		return console.ErrSessionExpired
	case guard.ReasonRoleDenied:
		return fmt.Errorf("%s requires a different role", dest)
	case guard.ReasonPartialSession:
		return fmt.Errorf("%s is unavailable: the session role is unknown, log in with a password", dest)
	}
	return fmt.Errorf("%s is unavailable (%s)", dest, d.Reason)
}

// retryable reports whether the user may simply enter another code.
func retryable(err error) bool {
	switch console.KindOf(err) {
	case console.KindInvalidCode, console.KindInvalidFormat, console.KindRateLimited:
		return true
	}
	return false
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags("login", a)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		v, err := a.prompt.Line("Email: ")
		if err != nil {
			return err
		}
		*email = v
	}
	password, err := a.prompt.Secret("Password: ")
	if err != nil {
		return err
	}

	out, err := a.auth.Login(ctx, *email, password)
	if err != nil {
		return err
	}
	if out.Status == auth.OutcomeAuthenticated {
		fmt.Fprintf(a.out, "Logged in as %s (%s)\n", out.Session.UserEmail, out.Session.Role)
		return nil
	}

	attempt := console.LoginAttempt{Email: *email, Password: password}
	ch := twofactor.NewChallenge(a.auth, attempt, a.twoFactorOptions(*email)...)
	defer ch.Abandon()
	if err := ch.Start(); err != nil {
		return err
	}
	fmt.Fprintln(a.errOut, "Two-factor authentication is enabled for this account.")
	for {
		code, err := a.prompt.Line("Verification code (blank to cancel): ")
		if err != nil {
			return err
		}
		if code == "" {
			return errCancelled
		}
		s, err := ch.Submit(ctx, code)
		if err == nil {
			fmt.Fprintf(a.out, "Logged in as %s (%s)\n", s.UserEmail, s.Role)
			return nil
		}
		if !retryable(err) {
			return err
		}
		fmt.Fprintln(a.errOut, describe(err))
	}
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.client.Auth().Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	s, err := a.client.Current(ctx)
	if err != nil {
		return err
	}
	if !s.Authenticated() {
		return console.ErrSessionExpired
	}
	role := string(s.Role)
	if !s.HasRole() {
		role = "unknown (partial session)"
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Email:\t%s\n", s.UserEmail)
	fmt.Fprintf(w, "Role:\t%s\n", role)
	if s.SessionID != "" {
		fmt.Fprintf(w, "Session:\t%s\n", s.SessionID)
	}
	if claims, err := token.Decode(s.Token); err == nil && !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt.Local().Format(time.RFC1123)
		if claims.Expired(time.Now()) {
			exp += " (expired)"
		}
		fmt.Fprintf(w, "Expires:\t%s\n", exp)
	}
	return w.Flush()
}

func cmdOAuth2(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: oauth2 url | oauth2 callback <redirect-url>")
	}
	switch args[0] {
	case "url":
		fmt.Fprintln(a.out, oauth2.AuthorizeURL(a.cfg.BaseURL, a.cfg.OAuth2Provider))
		return nil
	case "callback":
		if len(args) != 2 {
			return errors.New("usage: oauth2 callback <redirect-url>")
		}
		out, err := a.auth.ExchangeOAuth2RedirectURL(ctx, args[1])
		if err != nil {
			return err
		}
		if !out.Session.HasRole() {
			fmt.Fprintf(a.out, "Logged in as %s; role unknown, admin pages stay hidden\n", out.Session.UserEmail)
			return nil
		}
		fmt.Fprintf(a.out, "Logged in as %s (%s)\n", out.Session.UserEmail, out.Session.Role)
		return nil
	}
	return fmt.Errorf("unknown oauth2 command %q", args[0])
}

func cmdTwoFactor(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: 2fa status | setup [--qr-out file.png] | disable")
	}
	if err := a.require(ctx, destSecurity); err != nil {
		return err
	}
	switch args[0] {
	case "status":
		st, err := a.security.TwoFactorStatus(ctx)
		if err != nil {
			return err
		}
		state := "disabled"
		if st.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(a.out, "Two-factor authentication is %s\n", state)
		return nil
	case "setup":
		return twoFactorSetup(ctx, a, args[1:])
	case "disable":
		code, err := a.prompt.Line("Verification code: ")
		if err != nil {
			return err
		}
		if err := a.security.DisableTwoFactor(ctx, code); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Two-factor authentication disabled")
		return nil
	}
	return fmt.Errorf("unknown 2fa command %q", args[0])
}

func twoFactorSetup(ctx context.Context, a *app, args []string) error {
	fs := newFlags("2fa setup", a)
	qrOut := fs.String("qr-out", "", "write the QR code as PNG to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.auth.Current(ctx)
	if err != nil {
		return err
	}
	en := twofactor.NewEnrollment(a.twoFactor, a.twoFactorOptions(s.UserEmail)...)
	if on, err := en.Reconcile(ctx); err != nil {
		return err
	} else if on {
		fmt.Fprintln(a.out, "Two-factor authentication is already enabled")
		return nil
	}

	m, err := en.BeginSetup(ctx)
	if err != nil {
		return err
	}
	defer en.Cancel()

	fmt.Fprintf(a.out, "Secret key:   %s\n", m.SecretKey)
	if u := m.OTPAuthURL(); u != "" {
		fmt.Fprintf(a.out, "Setup URL:    %s\n", u)
	}
	if len(m.BackupCodes) > 0 {
		fmt.Fprintln(a.out, "Backup codes (store them somewhere safe):")
		for _, c := range m.BackupCodes {
			fmt.Fprintf(a.out, "  %s\n", c)
		}
	}
	if *qrOut != "" {
		if err := writeQR(m, *qrOut); err != nil {
			fmt.Fprintf(a.errOut, "Could not save the QR code: %v\n", err)
		} else {
			fmt.Fprintf(a.out, "QR code written to %s\n", *qrOut)
		}
	}

	for {
		code, err := a.prompt.Line("Verification code (blank to cancel): ")
		if err != nil {
			return err
		}
		if code == "" {
			return errCancelled
		}
		err = en.VerifyAndEnable(ctx, code)
		if err == nil {
			fmt.Fprintln(a.out, "Two-factor authentication enabled")
			return nil
		}
		if !retryable(err) {
			return err
		}
		fmt.Fprintln(a.errOut, describe(err))
	}
}

// writeQR saves the enrollment QR code as a PNG file. An inline PNG is written
// as is; an otpauth:// URL is rendered.
func writeQR(m *console.TwoFactorEnrollment, path string) error {
	data, ok, err := m.QRCodePNG()
	if err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	if !ok {
		if data, err = renderQR(m.OTPAuthURL()); err != nil {
			return fmt.Errorf("qr: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	return nil
}

func renderQR(otpauthURL string) ([]byte, error) {
	if otpauthURL == "" {
		return nil, errors.New("setup response has no QR code")
	}
	key, err := otp.NewKeyFromURL(otpauthURL)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(200, 200)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cmdPassword(ctx context.Context, a *app, _ []string) error {
	if err := a.require(ctx, destSecurity); err != nil {
		return err
	}
	current, err := a.prompt.Secret("Current password: ")
	if err != nil {
		return err
	}
	next, err := a.prompt.Secret("New password: ")
	if err != nil {
		return err
	}
	fmt.Fprintf(a.errOut, "Strength: %s\n", security.PasswordStrength(next).Level)
	confirm, err := a.prompt.Secret("Confirm new password: ")
	if err != nil {
		return err
	}
	if err := a.security.ChangePassword(ctx, current, next, confirm); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

func cmdSessions(ctx context.Context, a *app, args []string) error {
	if err := a.require(ctx, destSessions); err != nil {
		return err
	}
	var (
		list []console.SessionDescriptor
		err  error
	)
	switch {
	case len(args) == 0:
		list, err = a.security.ActiveSessions(ctx)
	case args[0] == "terminate-all" && len(args) == 1:
		if err := a.security.TerminateAllSessions(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "All sessions terminated; log in again to continue")
		return nil
	case args[0] == "terminate" && len(args) == 2:
		list, err = a.security.TerminateSession(ctx, args[1])
		if err == nil {
			fmt.Fprintf(a.out, "Session %s terminated\n", args[1])
		}
	default:
		return errors.New("usage: sessions | sessions terminate <id> | sessions terminate-all")
	}
	if err != nil {
		return err
	}

	current := ""
	if s, _ := a.auth.Current(ctx); s != nil {
		current = s.SessionID
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tDEVICE\tIP\tLOGIN\tLAST ACTIVITY\t")
	for _, d := range list {
		mark := ""
		if d.SessionID == current {
			mark = "(current)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.SessionID, d.Device(), d.IPAddress,
			formatTime(d.LoginTime.Time), formatTime(d.LastActivity.Time), mark)
	}
	return w.Flush()
}

func cmdAuditLogs(ctx context.Context, a *app, args []string) error {
	fs := newFlags("audit-logs", a)
	action := fs.String("action", "", "filter by action (substring)")
	entity := fs.String("entity", "", "filter by entity type (substring)")
	result := fs.String("result", "", "filter by result, e.g. SUCCESS")
	since := fs.String("since", "", "earliest time (YYYY-MM-DD or RFC 3339)")
	until := fs.String("until", "", "latest time (YYYY-MM-DD or RFC 3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.require(ctx, destAuditLogs); err != nil {
		return err
	}

	f := audit.Filter{Action: *action, EntityType: *entity, Result: *result}
	var err error
	if f.Start, err = parseWhen(*since); err != nil {
		return err
	}
	if f.End, err = parseWhen(*until); err != nil {
		return err
	}

	entries, err := a.security.AuditLogs(ctx, f)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tUSER\tACTION\tENTITY\tSTATUS\tERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", formatTime(e.Timestamp.Time), e.UserEmail,
			e.Action, strings.TrimSpace(e.EntityType+" "+e.EntityID), e.Status, e.ErrorMessage)
	}
	return w.Flush()
}

func cmdCan(ctx context.Context, a *app, args []string) error {
	fs := newFlags("can", a)
	role := fs.String("role", "", "check a role instead of the stored session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: can [--role ROLE] <destination>")
	}
	dest := fs.Arg(0)

	if *role != "" {
		r := console.ParseRole(*role)
		if !r.Known() {
			return fmt.Errorf("unknown role %q", *role)
		}
		if a.guard.Allows(r, dest) {
			fmt.Fprintf(a.out, "allowed for %s\n", r)
			return nil
		}
		fmt.Fprintf(a.out, "denied for %s\n", r)
		return fmt.Errorf("%s is not reachable for %s", dest, r)
	}

	d := a.guard.Check(ctx, dest)
	if d.Allowed {
		fmt.Fprintf(a.out, "allowed (%s)\n", d.Reason)
		return nil
	}
	fmt.Fprintf(a.out, "denied (%s), redirect to %s\n", d.Reason, d.Redirect)
	return fmt.Errorf("%s is not reachable", dest)
}

// menuEntries are the console pages in navigation order.
var menuEntries = []struct{ dest, label string }{
	{guard.DashboardPath, "Dashboard"},
	{destSecurity, "Security settings"},
	{"/admin/users", "User management"},
	{destSessions, "Active sessions"},
	{destAuditLogs, "Audit logs"},
}

func cmdMenu(ctx context.Context, a *app, _ []string) error {
	s, err := a.client.Current(ctx)
	if err != nil {
		return err
	}
	if !s.Authenticated() {
		return console.ErrSessionExpired
	}
	for _, e := range menuEntries {
		if a.guard.Visible(ctx, e.dest) {
			fmt.Fprintf(a.out, "%-18s %s\n", e.label, e.dest)
		}
	}
	return nil
}

func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want YYYY-MM-DD or RFC 3339)", s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
