// Package fake provides an in-memory HR API server for tests.
//
// NewServer starts a gin router on an httptest listener that speaks the login,
// 2FA, session, employee and audit-log endpoints the console uses. Tokens are
// HS256 JWTs with the user's email as subject and a role claim.
package fake

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

// Option configures the fake server.
type Option func(*Server)

type user struct {
	email      string
	password   string
	role       string
	employeeID int64
	locked     bool

	twoFactor     bool
	secret        string
	pendingSecret string
}

type session struct {
	id        string
	email     string
	ip        string
	userAgent string
	loginTime time.Time
	lastSeen  time.Time
	active    bool
}

type auditEntry struct {
	ID           int64  `json:"id"`
	UserEmail    string `json:"userEmail"`
	Action       string `json:"action"`
	EntityType   string `json:"entityType"`
	EntityID     string `json:"entityId"`
	IPAddress    string `json:"ipAddress"`
	UserAgent    string `json:"userAgent"`
	Timestamp    string `json:"timestamp"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type override struct {
	status int
	body   string
}

// Server is a fake HR API.
type Server struct {
	mu        sync.Mutex
	users     map[string]*user
	byID      map[int64]*user
	sessions  map[string]*session
	audit     []auditEntry
	calls     map[string]int
	overrides map[string]override
	key       []byte
	now       func() time.Time

	srv *httptest.Server
}

// WithUser adds an account.
func WithUser(email, password, role string, employeeID int64) Option {
	return func(s *Server) {
		u := &user{email: email, password: password, role: role, employeeID: employeeID}
		s.users[email] = u
		s.byID[employeeID] = u
	}
}

// WithTwoFactor enables TOTP for an existing account with a generated secret.
func WithTwoFactor(email string) Option {
	return func(s *Server) {
		u, ok := s.users[email]
		if !ok {
			return
		}
		key, err := totp.Generate(totp.GenerateOpts{Issuer: "HR Console", AccountName: email})
		if err != nil {
			panic("fake: generate totp secret: " + err.Error())
		}
		u.twoFactor = true
		u.secret = key.Secret()
	}
}

// WithLocked marks an account as locked.
func WithLocked(email string) Option {
	return func(s *Server) {
		if u, ok := s.users[email]; ok {
			u.locked = true
		}
	}
}

// WithStatus makes every request to path answer status with body.
func WithStatus(path string, status int, body string) Option {
	return func(s *Server) {
		s.overrides[path] = override{status: status, body: body}
	}
}

// NewServer starts a fake server. Call Close when done.
func NewServer(opts ...Option) *Server {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("fake: signing key: " + err.Error())
	}
	s := &Server{
		users:     make(map[string]*user),
		byID:      make(map[int64]*user),
		sessions:  make(map[string]*session),
		calls:     make(map[string]int),
		overrides: make(map[string]override),
		key:       key,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.srv = httptest.NewServer(s.router())
	return s
}

// URL returns the base URL of the server.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// SetStatus injects a response for path after the server has started.
// A zero status removes the injection.
func (s *Server) SetStatus(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.overrides, path)
		return
	}
	s.overrides[path] = override{status: status, body: body}
}

// CurrentCode returns a valid TOTP code for email's enabled or pending secret.
func (s *Server) CurrentCode(email string) string {
	s.mu.Lock()
	u, ok := s.users[email]
	var secret string
	if ok {
		secret = u.secret
		if u.pendingSecret != "" {
			secret = u.pendingSecret
		}
	}
	s.mu.Unlock()
	if secret == "" {
		return ""
	}
	code, err := totp.GenerateCode(secret, s.now())
	if err != nil {
		return ""
	}
	return code
}

// TwoFactorEnabled reports the server-side 2FA flag for email.
func (s *Server) TwoFactorEnabled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	return ok && u.twoFactor
}

// Password returns the current password of email.
func (s *Server) Password(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		return u.password
	}
	return ""
}

// ActiveSessions returns the ids of email's active sessions.
func (s *Server) ActiveSessions(email string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, sess := range s.sessions {
		if sess.email == email && sess.active {
			ids = append(ids, id)
		}
	}
	return ids
}

// IssueToken mints a token for email without a server session, as the OAuth2
// success handler does. withRole controls whether the role claim is included.
func (s *Server) IssueToken(email string, withRole bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := ""
	if u, ok := s.users[email]; ok && withRole {
		role = u.role
	}
	return s.sign(email, role, "")
}

// OAuth2Redirect returns the query a successful provider login redirects with.
func (s *Server) OAuth2Redirect(email string, withRole bool) url.Values {
	return url.Values{"token": {s.IssueToken(email, withRole)}, "user": {email}}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.intercept())

	a := r.Group("/api/v1/auth")
	a.POST("/login", s.login)
	a.POST("/login/2fa", s.loginTwoFactor)
	a.POST("/logout", s.auth(), s.logout)
	a.POST("/oauth2/logout", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
	})

	sec := r.Group("/api/v1/security/2fa", s.auth())
	sec.GET("/status", s.twoFactorStatus)
	sec.POST("/setup", s.twoFactorSetup)
	sec.POST("/enable", s.twoFactorEnable)
	sec.POST("/disable", s.twoFactorDisable)

	emp := r.Group("/api/v1/employees", s.auth())
	emp.GET("/getEmployeeInfo/:email", s.employeeInfo)
	emp.PUT("/changePassword/:id", s.changePassword)

	adm := r.Group("/api/v1/admin", s.auth(), requireRole("ADMIN", "SUPER_ADMIN"))
	adm.GET("/sessions/active", s.listSessions)
	adm.POST("/sessions/:id/terminate", s.terminateSession)
	adm.POST("/sessions/user/:email/terminate-all", s.terminateAll)
	adm.GET("/audit-logs", s.auditLogs)

	return r
}

func (s *Server) sign(email, role, sid string) string {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": email,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	if sid != "" {
		claims["sid"] = sid
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		panic("fake: sign token: " + err.Error())
	}
	return tok
}

// openSession records a new session and returns the login response body.
// Caller holds s.mu.
func (s *Server) openSession(c *gin.Context, u *user) gin.H {
	now := s.now()
	sess := &session{
		id:        uuid.NewString(),
		email:     u.email,
		ip:        c.ClientIP(),
		userAgent: c.Request.UserAgent(),
		loginTime: now,
		lastSeen:  now,
		active:    true,
	}
	s.sessions[sess.id] = sess
	s.record(c, u.email, "LOGIN", "SUCCESS", "")
	return gin.H{
		"token":     s.sign(u.email, u.role, sess.id),
		"sessionId": sess.id,
		"role":      u.role,
		"message":   "Login successful",
	}
}

func (s *Server) sessionActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok && sess.active {
		sess.lastSeen = s.now()
	}
	return ok && sess.active
}

// record appends an audit entry. Caller holds s.mu.
func (s *Server) record(c *gin.Context, email, action, status, errMsg string) {
	s.audit = append(s.audit, auditEntry{
		ID:           int64(len(s.audit) + 1),
		UserEmail:    email,
		Action:       action,
		EntityType:   "User",
		EntityID:     email,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Timestamp:    s.now().Format("2006-01-02T15:04:05"),
		Status:       status,
		ErrorMessage: errMsg,
	})
}

type credentials struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode"`
}

// checkCredentials validates email and password. Caller holds s.mu.
func (s *Server) checkCredentials(c *gin.Context, req credentials) (*user, bool) {
	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		s.record(c, req.Email, "LOGIN", "FAILURE", "Invalid email or password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return nil, false
	}
	if u.locked {
		c.JSON(http.StatusLocked, gin.H{"error": "Account is locked"})
		return nil, false
	}
	return u, true
}

func (s *Server) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.checkCredentials(c, req)
	if !ok {
		return
	}
	if u.twoFactor {
		c.JSON(http.StatusOK, gin.H{"requiresTwoFactor": true, "message": "2FA required"})
		return
	}
	c.JSON(http.StatusOK, s.openSession(c, u))
}

func (s *Server) loginTwoFactor(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.checkCredentials(c, req)
	if !ok {
		return
	}
	if !u.twoFactor || !totp.Validate(req.TwoFactorCode, u.secret) {
		s.record(c, u.email, "LOGIN_2FA", "FAILURE", "Invalid two-factor authentication code")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid two-factor authentication code"})
		return
	}
	c.JSON(http.StatusOK, s.openSession(c, u))
}

func (s *Server) logout(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[req.SessionID]; ok && sess.email == c.GetString(KeyEmail) {
		sess.active = false
	}
	s.record(c, c.GetString(KeyEmail), "LOGOUT", "SUCCESS", "")
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// caller returns the authenticated user. Caller holds s.mu.
func (s *Server) caller(c *gin.Context) (*user, bool) {
	u, ok := s.users[c.GetString(KeyEmail)]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
	}
	return u, ok
}

func (s *Server) twoFactorStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.caller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"isEnabled": u.twoFactor})
}

func (s *Server) twoFactorSetup(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.caller(c)
	if !ok {
		return
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "HR Console", AccountName: u.email})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	img, err := key.Image(200, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	u.pendingSecret = key.Secret()

	codes := make([]string, 8)
	for i := range codes {
		codes[i] = strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	c.JSON(http.StatusOK, gin.H{
		"secretKey":   key.Secret(),
		"qrCodeUrl":   "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		"backupCodes": codes,
		"isEnabled":   false,
	})
}

type codeRequest struct {
	VerificationCode string `json:"verificationCode"`
}

func (s *Server) twoFactorEnable(c *gin.Context) {
	var req codeRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.caller(c)
	if !ok {
		return
	}
	if u.pendingSecret == "" || !totp.Validate(req.VerificationCode, u.pendingSecret) {
		s.record(c, u.email, "ENABLE_2FA", "FAILURE", "Invalid verification code")
		c.JSON(http.StatusOK, gin.H{"isEnabled": false, "message": "Invalid verification code"})
		return
	}
	u.secret, u.pendingSecret, u.twoFactor = u.pendingSecret, "", true
	s.record(c, u.email, "ENABLE_2FA", "SUCCESS", "")
	c.JSON(http.StatusOK, gin.H{"isEnabled": true, "message": "Two-factor authentication enabled"})
}

func (s *Server) twoFactorDisable(c *gin.Context) {
	var req codeRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.caller(c)
	if !ok {
		return
	}
	if !u.twoFactor || !totp.Validate(req.VerificationCode, u.secret) {
		s.record(c, u.email, "DISABLE_2FA", "FAILURE", "Invalid verification code")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification code"})
		return
	}
	u.twoFactor, u.secret = false, ""
	s.record(c, u.email, "DISABLE_2FA", "SUCCESS", "")
	c.JSON(http.StatusOK, gin.H{"isEnabled": false, "message": "Two-factor authentication disabled"})
}

func (s *Server) employeeInfo(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.Param("email")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Employee not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"employee_id": u.employeeID, "email": u.email, "role": u.role})
}

func (s *Server) changePassword(c *gin.Context) {
	var req struct {
		OldPassword     string `json:"oldPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	u, ok := s.byID[id]
	if !ok || u.email != c.GetString(KeyEmail) {
		c.String(http.StatusForbidden, "Not allowed")
		return
	}
	switch {
	case u.password != req.OldPassword:
		c.String(http.StatusBadRequest, "Old password is incorrect")
	case req.NewPassword != req.ConfirmPassword:
		c.String(http.StatusBadRequest, "New password and confirm password do not match")
	default:
		u.password = req.NewPassword
		s.record(c, u.email, "CHANGE_PASSWORD", "SUCCESS", "")
		c.String(http.StatusOK, "Password changed successfully")
	}
}

func (s *Server) listSessions(c *gin.Context) {
	email := c.Query("userEmail")
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]gin.H, 0)
	for _, sess := range s.sessions {
		if !sess.active || (email != "" && sess.email != email) {
			continue
		}
		out = append(out, gin.H{
			"sessionId":    sess.id,
			"userEmail":    sess.email,
			"ipAddress":    sess.ip,
			"userAgent":    sess.userAgent,
			"loginTime":    sess.loginTime.Format("2006-01-02T15:04:05"),
			"lastActivity": sess.lastSeen.Format("2006-01-02T15:04:05"),
			"isActive":     true,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) terminateSession(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	sess.active = false
	s.record(c, c.GetString(KeyEmail), "TERMINATE_SESSION", "SUCCESS", "")
	c.JSON(http.StatusOK, gin.H{"message": "Session terminated successfully"})
}

func (s *Server) terminateAll(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.email == c.Param("email") {
			sess.active = false
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "All sessions terminated successfully"})
}

func (s *Server) auditLogs(c *gin.Context) {
	email := c.Query("userEmail")
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]auditEntry, 0, len(s.audit))
	for _, e := range s.audit {
		if email == "" || e.UserEmail == email {
			out = append(out, e)
		}
	}
	c.JSON(http.StatusOK, out)
}
