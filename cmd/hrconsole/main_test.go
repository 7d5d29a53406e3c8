package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/fake"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv *fake.Server
}

func newHarness(t *testing.T, opts ...fake.Option) *harness {
	t.Helper()
	base := []fake.Option{
		fake.WithUser("alice@corp.io", "Alice#123", "SUPER_ADMIN", 1),
		fake.WithUser("bob@corp.io", "Bob#12345", "EMPLOYEE", 2),
	}
	srv := fake.NewServer(append(base, opts...)...)
	t.Cleanup(srv.Close)

	t.Setenv("HRCONSOLE_BASE_URL", srv.URL())
	t.Setenv("HRCONSOLE_STORE", "file")
	t.Setenv("HRCONSOLE_STORE_PATH", filepath.Join(t.TempDir(), "session.json"))
	t.Setenv("HRCONSOLE_LOG_LEVEL", "error")
	return &harness{srv: srv}
}

// exec runs one invocation and returns stdout and stderr.
func (h *harness) exec(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.exec(t, "Alice#123\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as alice@corp.io (SUPER_ADMIN)")

	out, _, err = h.exec(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "alice@corp.io")
	assert.Contains(t, out, "SUPER_ADMIN")
	assert.Contains(t, out, "Expires:")

	_, _, err = h.exec(t, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, 1, h.srv.Calls("/api/v1/auth/logout"))

	_, _, err = h.exec(t, "", "whoami")
	assert.ErrorIs(t, err, console.ErrSessionExpired)
}

func TestLoginPromptsForEmail(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.exec(t, "bob@corp.io\nBob#12345\n", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as bob@corp.io (EMPLOYEE)")
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "nope\n", "login", "--email", "alice@corp.io")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password. Please try again.", describe(err))
}

func TestLoginTwoFactorRetriesWithoutPassword(t *testing.T) {
	h := newHarness(t, fake.WithTwoFactor("alice@corp.io"))
	code := h.srv.CurrentCode("alice@corp.io")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	out, errOut, err := h.exec(t, "Alice#123\n12\n"+wrong+"\n"+code+"\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)
	assert.Contains(t, errOut, "valid 6-digit")
	assert.Contains(t, errOut, "Invalid verification code")
	assert.Contains(t, out, "Logged in as alice@corp.io")
	assert.Equal(t, 1, h.srv.Calls("/api/v1/auth/login"))
}

func TestLoginTwoFactorCancel(t *testing.T) {
	h := newHarness(t, fake.WithTwoFactor("alice@corp.io"))
	_, _, err := h.exec(t, "Alice#123\n\n", "login", "--email", "alice@corp.io")
	assert.ErrorIs(t, err, errCancelled)

	_, _, err = h.exec(t, "", "whoami")
	assert.ErrorIs(t, err, console.ErrSessionExpired)
}

func TestOAuth2Commands(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.exec(t, "", "oauth2", "url")
	require.NoError(t, err)
	assert.Equal(t, h.srv.URL()+"/oauth2/authorization/google\n", out)

	redirect := "http://console.local/oauth2/redirect?" + h.srv.OAuth2Redirect("bob@corp.io", false).Encode()
	out, _, err = h.exec(t, "", "oauth2", "callback", redirect)
	require.NoError(t, err)
	assert.Contains(t, out, "role unknown")

	_, _, err = h.exec(t, "", "sessions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role is unknown")

	_, _, err = h.exec(t, "", "oauth2", "callback", "http://console.local/oauth2/redirect?error=authentication_failed")
	assert.ErrorIs(t, err, console.ErrOAuth2Failed)
}

func TestCan(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Bob#12345\n", "login", "--email", "bob@corp.io")
	require.NoError(t, err)

	out, _, err := h.exec(t, "", "can", "/dashboard")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed")

	out, _, err = h.exec(t, "", "can", "/admin/users")
	require.Error(t, err)
	assert.Contains(t, out, "denied (role_denied), redirect to /dashboard")
}

func TestSessionsMarksCurrent(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Alice#123\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)

	out, _, err := h.exec(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "(current)")
	assert.Contains(t, out, "LAST ACTIVITY")
}

func TestPasswordChange(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Bob#12345\n", "login", "--email", "bob@corp.io")
	require.NoError(t, err)

	out, errOut, err := h.exec(t, "Bob#12345\nNewPass@1\nNewPass@1\n", "password")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Strength: Strong")
	assert.Contains(t, out, "Password changed")
	assert.Equal(t, "NewPass@1", h.srv.Password("bob@corp.io"))
}

func TestTwoFactorStatusRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "", "2fa", "status")
	assert.ErrorIs(t, err, console.ErrSessionExpired)
	assert.Equal(t, 0, h.srv.Calls("/api/v1/security/2fa/status"))
}

func TestAuditLogsForAdmin(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Alice#123\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)

	out, _, err := h.exec(t, "", "audit-logs", "--action", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "LOGIN")

	_, _, err = h.exec(t, "", "audit-logs", "--since", "yesterday")
	assert.Error(t, err)
}

func TestUnknownCommand(t *testing.T) {
	newHarness(t)
	_, errOut, err := (&harness{}).exec(t, "", "frobnicate")
	require.Error(t, err)
	assert.Contains(t, errOut, "Commands:")
}

func TestWriteQR(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "HR Console", AccountName: "bob@corp.io"})
	require.NoError(t, err)
	img, err := key.Image(120, 120)
	require.NoError(t, err)
	var inline bytes.Buffer
	require.NoError(t, png.Encode(&inline, img))

	cases := []struct {
		name   string
		qr     string
		wantDx int
	}{
		{"otpauth url", key.URL(), 200},
		{"inline png", console.QRCodePNGPrefix + base64.StdEncoding.EncodeToString(inline.Bytes()), 120},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "qr.png")
			require.NoError(t, writeQR(&console.TwoFactorEnrollment{QRCodeURL: tc.qr}, path))

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			img, err := png.Decode(f)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDx, img.Bounds().Dx())
		})
	}

	err = writeQR(&console.TwoFactorEnrollment{QRCodeURL: "https://example.com/qr"}, filepath.Join(t.TempDir(), "qr.png"))
	assert.Error(t, err)
}

func TestTwoFactorSetupSavesServerQR(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Bob#12345\n", "login", "--email", "bob@corp.io")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "qr.png")
	out, _, err := h.exec(t, "\n", "2fa", "setup", "--qr-out", path)
	assert.ErrorIs(t, err, errCancelled)
	assert.Contains(t, out, "Secret key:")
	assert.Contains(t, out, "QR code written to "+path)
	assert.NotContains(t, out, "data:image")
	assert.NotContains(t, out, "Setup URL:")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	require.NoError(t, err)
}

func TestOAuth2CallbackMalformedURL(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "", "oauth2", "callback", "http://[::1")
	assert.Equal(t, console.KindInvalidFormat, console.KindOf(err))
}

func TestCanForRole(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.exec(t, "", "can", "--role", "ADMIN", "/admin/audit-logs")
	require.NoError(t, err)
	assert.Equal(t, "allowed for ADMIN\n", out)

	out, _, err = h.exec(t, "", "can", "--role", "ADMIN", "/admin/users")
	require.Error(t, err)
	assert.Equal(t, "denied for ADMIN\n", out)

	_, _, err = h.exec(t, "", "can", "--role", "JANITOR", "/dashboard")
	assert.Error(t, err)
}

func TestMenu(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "", "menu")
	assert.ErrorIs(t, err, console.ErrSessionExpired)

	_, _, err = h.exec(t, "Bob#12345\n", "login", "--email", "bob@corp.io")
	require.NoError(t, err)
	out, _, err := h.exec(t, "", "menu")
	require.NoError(t, err)
	assert.Contains(t, out, "Dashboard")
	assert.Contains(t, out, "Security settings")
	assert.NotContains(t, out, "Audit logs")

	_, _, err = h.exec(t, "Alice#123\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)
	out, _, err = h.exec(t, "", "menu")
	require.NoError(t, err)
	assert.Contains(t, out, "User management")
	assert.Contains(t, out, "Audit logs")
}

func TestSessionsTerminateAll(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.exec(t, "Alice#123\n", "login", "--email", "alice@corp.io")
	require.NoError(t, err)

	out, _, err := h.exec(t, "", "sessions", "terminate-all")
	require.NoError(t, err)
	assert.Contains(t, out, "All sessions terminated")
	assert.Empty(t, h.srv.ActiveSessions("alice@corp.io"))

	_, _, err = h.exec(t, "", "whoami")
	assert.ErrorIs(t, err, console.ErrSessionExpired)
}
