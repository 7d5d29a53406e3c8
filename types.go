package console

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/mileusna/useragent"
)

// MinPasswordLength is the shortest new password accepted before contacting the server.
const MinPasswordLength = 8

// Role is the account role carried by a session.
type Role string

const (
	RoleUnknown    Role = ""
	RoleEmployee   Role = "EMPLOYEE"
	RoleHR         Role = "HR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole converts a server role string into a Role. Unrecognised values yield RoleUnknown.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleEmployee:
		return RoleEmployee
	case RoleHR:
		return RoleHR
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	}
	return RoleUnknown
}

// Known reports whether r is one of the defined roles.
func (r Role) Known() bool { return ParseRole(string(r)) != RoleUnknown }

// Session is the persisted authentication state.
type Session struct {
	Token     string
	Role      Role
	SessionID string
	UserEmail string
}

// Authenticated reports whether the session carries a bearer token.
func (s *Session) Authenticated() bool { return s != nil && s.Token != "" }

// HasRole reports whether the session is complete enough for role-gated decisions.
// A token without a known role is a partial session.
func (s *Session) HasRole() bool { return s.Authenticated() && s.Role.Known() }

// LoginAttempt holds credentials between the password step and the code step.
// It is never persisted.
type LoginAttempt struct {
	Email    string
	Password string
}

// Empty reports whether the attempt has been cleared.
func (a *LoginAttempt) Empty() bool { return a.Email == "" && a.Password == "" }

// Clear drops the held credentials.
func (a *LoginAttempt) Clear() {
	a.Email = ""
	a.Password = ""
}

// TwoFactorEnrollment is the setup material returned by the server.
// Backup codes are opaque to the client.
type TwoFactorEnrollment struct {
	SecretKey   string   `json:"secretKey"`
	QRCodeURL   string   `json:"qrCodeUrl"`
	BackupCodes []string `json:"backupCodes"`
}

// Clone returns a deep copy so callers cannot retain the flow's backing slice.
func (e *TwoFactorEnrollment) Clone() *TwoFactorEnrollment {
	if e == nil {
		return nil
	}
	c := *e
	c.BackupCodes = append([]string(nil), e.BackupCodes...)
	return &c
}

// QRCodePNGPrefix starts a QR code delivered inline as a base64 PNG.
const QRCodePNGPrefix = "data:image/png;base64,"

// QRCodePNG returns the image bytes when QRCodeURL is an inline PNG. ok is
// false for any other form.
func (e *TwoFactorEnrollment) QRCodePNG() (img []byte, ok bool, err error) {
	payload, found := strings.CutPrefix(e.QRCodeURL, QRCodePNGPrefix)
	if !found {
		return nil, false, nil
	}
	img, err = base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, true, &Error{Kind: KindUnknown, Message: "malformed QR code image", Err: err}
	}
	return img, true, nil
}

// OTPAuthURL returns QRCodeURL when it is an otpauth:// provisioning URL.
func (e *TwoFactorEnrollment) OTPAuthURL() string {
	if strings.HasPrefix(e.QRCodeURL, "otpauth://") {
		return e.QRCodeURL
	}
	return ""
}

// TwoFactorStatus reports whether 2FA is enabled for the current account.
type TwoFactorStatus struct {
	Enabled bool `json:"isEnabled"`
}

// Timestamp decodes the server's date-time values, which may or may not carry a zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts RFC 3339 strings, zone-less ISO local date-times and null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON writes the timestamp as RFC 3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// SessionDescriptor is one active server-side session as listed by the server.
type SessionDescriptor struct {
	SessionID    string    `json:"sessionId"`
	UserEmail    string    `json:"userEmail"`
	DeviceInfo   string    `json:"deviceInfo"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	LoginTime    Timestamp `json:"loginTime"`
	LastActivity Timestamp `json:"lastActivity"`
	Active       bool      `json:"isActive"`
}

// Device returns a display label for the session's device.
func (d SessionDescriptor) Device() string {
	if d.DeviceInfo != "" {
		return d.DeviceInfo
	}
	if d.UserAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.Parse(d.UserAgent)
	if ua.Name == "" {
		return "Unknown Device"
	}
	label := ua.Name
	if ua.OS != "" {
		label += " on " + ua.OS
	}
	return label
}

// AuditLogEntry is one server audit record.
type AuditLogEntry struct {
	ID           int64     `json:"id"`
	UserEmail    string    `json:"userEmail"`
	Action       string    `json:"action"`
	EntityType   string    `json:"entityType"`
	EntityID     string    `json:"entityId"`
	OldValues    string    `json:"oldValues"`
	NewValues    string    `json:"newValues"`
	IPAddress    string    `json:"ipAddress"`
	UserAgent    string    `json:"userAgent"`
	Timestamp    Timestamp `json:"timestamp"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateVerificationCode checks that code is exactly six ASCII digits.
// Content validity is decided by the server.
func ValidateVerificationCode(code string) error {
	if err := validate.Var(code, "required,len=6,number"); err != nil {
		return &Error{Kind: KindInvalidFormat, Message: "Please enter a valid 6-digit verification code.", Err: err}
	}
	return nil
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// ValidateLoginForm checks the shape of login credentials before submission.
func ValidateLoginForm(email, password string) error {
	err := validate.Struct(loginForm{Email: strings.TrimSpace(email), Password: password})
	if err == nil {
		return nil
	}
	msg := "Please enter a valid email and password."
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Email":
			msg = "Please enter a valid email address."
		case "Password":
			msg = "Password is required."
		}
	}
	return &Error{Kind: KindInvalidFormat, Message: msg, Err: err}
}
