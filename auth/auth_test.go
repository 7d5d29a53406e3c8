package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	console "github.com/chimerakang/hrconsole-go"
	"github.com/chimerakang/hrconsole-go/audit"
	"github.com/chimerakang/hrconsole-go/rest"
	"github.com/chimerakang/hrconsole-go/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, sub, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()}
	if role != "" {
		claims["role"] = role
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

type apiStub struct {
	mu    sync.Mutex
	calls map[string]int
	auth  map[string]string
	body  map[string]string
	reply func(path string) (int, string)
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.auth[r.URL.Path] = r.Header.Get("Authorization")
	s.body[r.URL.Path] = string(b)
	s.mu.Unlock()

	status, body := s.reply(r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *apiStub) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *apiStub) sent(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.body[path]
}

func (s *apiStub) bearer(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth[path]
}

func (s *apiStub) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func newClient(t *testing.T, reply func(path string) (int, string), opts ...Option) (*Client, *store.Memory, *apiStub) {
	t.Helper()
	stub := &apiStub{calls: map[string]int{}, auth: map[string]string{}, body: map[string]string{}, reply: reply}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	st := store.NewMemory()
	return New(rest.New(srv.URL, st), st, opts...), st, stub
}

func TestLogin_Authenticated(t *testing.T) {
	tok := signed(t, "a@corp.io", "ADMIN")
	c, st, stub := newClient(t, func(string) (int, string) {
		return 200, `{"token":"` + tok + `","sessionId":"sid-1","role":"ADMIN","message":"Login successful"}`
	})

	out, err := c.Login(context.Background(), "a@corp.io", "pw")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAuthenticated, out.Status)
	assert.JSONEq(t, `{"email":"a@corp.io","password":"pw"}`, stub.sent(loginPath))

	got, _ := st.Get(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, console.Session{Token: tok, Role: console.RoleAdmin, SessionID: "sid-1", UserEmail: "a@corp.io"}, *got)
}

func TestLogin_TwoFactorRequiredNeverWritesStore(t *testing.T) {
	bodies := []string{
		`{"requiresTwoFactor":true,"message":"2FA required"}`,
		`{"message":"2FA required"}`,
		`{"requiresTwoFactor":true}`,
	}
	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			c, st, _ := newClient(t, func(string) (int, string) { return 200, body })
			out, err := c.Login(context.Background(), "a@corp.io", "pw")
			require.NoError(t, err)
			assert.Equal(t, OutcomeTwoFactorRequired, out.Status)
			assert.Nil(t, out.Session)

			got, _ := st.Get(context.Background())
			assert.Nil(t, got)
		})
	}
}

func TestLogin_AmbiguousResponseFails(t *testing.T) {
	c, st, _ := newClient(t, func(string) (int, string) {
		return 200, `{"requiresTwoFactor":true,"token":"x","role":"HR"}`
	})
	_, err := c.Login(context.Background(), "a@corp.io", "pw")
	assert.Equal(t, console.KindUnknown, console.KindOf(err))
	assert.Contains(t, err.Error(), "ambiguous")
	got, _ := st.Get(context.Background())
	assert.Nil(t, got)
}

func TestLogin_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   console.ErrorKind
	}{
		{401, `{"error":"bad"}`, console.KindInvalidCredentials},
		{423, `{"error":"locked"}`, console.KindAccountLocked},
		{429, `{"message":"slow down"}`, console.KindRateLimited},
		{400, `{"error":"Invalid email or password"}`, console.KindUnknown},
		{400, `{"code":"ACCOUNT_LOCKED","error":"locked"}`, console.KindAccountLocked},
		{500, ``, console.KindUnknown},
	}
	for _, tc := range cases {
		c, st, _ := newClient(t, func(string) (int, string) { return tc.status, tc.body })
		_, err := c.Login(context.Background(), "a@corp.io", "pw")
		assert.Equal(t, tc.want, console.KindOf(err), "status %d body %s", tc.status, tc.body)
		got, _ := st.Get(context.Background())
		assert.Nil(t, got)
	}
}

func TestLogin_UnknownMessageCarriesServerText(t *testing.T) {
	c, _, _ := newClient(t, func(string) (int, string) { return 400, `{"error":"Invalid email or password"}` })
	_, err := c.Login(context.Background(), "a@corp.io", "pw")
	assert.EqualError(t, err, "Invalid email or password")
}

func TestLogin_FormValidatedBeforeNetwork(t *testing.T) {
	c, _, stub := newClient(t, func(string) (int, string) { return 200, `{}` })
	_, err := c.Login(context.Background(), "not-an-email", "pw")
	assert.Equal(t, console.KindInvalidFormat, console.KindOf(err))
	_, err = c.Login(context.Background(), "a@corp.io", "")
	assert.Equal(t, console.KindInvalidFormat, console.KindOf(err))
	assert.Zero(t, stub.count(loginPath))
}

func TestLogin_RoleFallsBackToTokenClaim(t *testing.T) {
	tok := signed(t, "h@corp.io", "HR")
	c, st, _ := newClient(t, func(string) (int, string) {
		return 200, `{"token":"` + tok + `","sessionId":"s"}`
	})
	_, err := c.Login(context.Background(), "h@corp.io", "pw")
	require.NoError(t, err)
	got, _ := st.Get(context.Background())
	assert.Equal(t, console.RoleHR, got.Role)
}

func TestLogin_NoRoleAnywhereFails(t *testing.T) {
	tok := signed(t, "h@corp.io", "")
	c, st, _ := newClient(t, func(string) (int, string) {
		return 200, `{"token":"` + tok + `"}`
	})
	_, err := c.Login(context.Background(), "h@corp.io", "pw")
	assert.Equal(t, console.KindUnknown, console.KindOf(err))
	got, _ := st.Get(context.Background())
	assert.Nil(t, got)
}

func TestLogin_DuplicateSubmissionRejected(t *testing.T) {
	release := make(chan struct{})
	tok := signed(t, "a@corp.io", "HR")
	c, _, stub := newClient(t, func(string) (int, string) {
		<-release
		return 200, `{"token":"` + tok + `","role":"HR"}`
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Login(context.Background(), "a@corp.io", "pw")
	}()

	require.Eventually(t, func() bool { return c.inflight.Pending("login") }, time.Second, 5*time.Millisecond)
	_, err := c.Login(context.Background(), "a@corp.io", "pw")
	assert.Equal(t, console.KindInFlight, console.KindOf(err))

	close(release)
	wg.Wait()
	assert.Equal(t, 1, stub.count(loginPath))
}

func TestLogin_FlowGuardConflict(t *testing.T) {
	guard := console.NewFlowGuard()
	release, err := guard.Acquire(console.FlowEnrollment)
	require.NoError(t, err)
	defer release()

	c, _, stub := newClient(t, func(string) (int, string) { return 200, `{}` }, WithFlowGuard(guard))
	_, err = c.Login(context.Background(), "a@corp.io", "pw")
	assert.Equal(t, console.KindFlowConflict, console.KindOf(err))
	assert.Zero(t, stub.count(loginPath))
}

func TestSubmitTwoFactorCode_Success(t *testing.T) {
	tok := signed(t, "a@corp.io", "SUPER_ADMIN")
	c, st, stub := newClient(t, func(string) (int, string) {
		return 200, `{"token":"` + tok + `","sessionId":"sid-9","role":"SUPER_ADMIN"}`
	})

	s, err := c.SubmitTwoFactorCode(context.Background(), "a@corp.io", "pw", "123456")
	require.NoError(t, err)
	assert.Equal(t, "sid-9", s.SessionID)
	assert.JSONEq(t, `{"email":"a@corp.io","password":"pw","twoFactorCode":"123456"}`, stub.sent(loginTwoFAPath))

	got, _ := st.Get(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, "sid-9", got.SessionID)
	assert.Equal(t, console.RoleSuperAdmin, got.Role)
}

func TestSubmitTwoFactorCode_CancelledCallerGetsNoSession(t *testing.T) {
	tok := signed(t, "a@corp.io", "HR")
	ctx, cancel := context.WithCancel(context.Background())
	c, st, _ := newClient(t, func(string) (int, string) {
		cancel()
		return 200, `{"token":"` + tok + `","sessionId":"sid-1","role":"HR"}`
	})

	_, err := c.SubmitTwoFactorCode(ctx, "a@corp.io", "pw", "123456")
	require.Error(t, err)
	got, _ := st.Get(context.Background())
	assert.Nil(t, got)
}

func TestSubmitTwoFactorCode_ShapeCheckedFirst(t *testing.T) {
	c, _, stub := newClient(t, func(string) (int, string) { return 200, `{}` })
	for _, code := range []string{"", "12345", "1234567", "12a456", "１２３４５６"} {
		_, err := c.SubmitTwoFactorCode(context.Background(), "a@corp.io", "pw", code)
		assert.Equal(t, console.KindInvalidFormat, console.KindOf(err), "code %q", code)
	}
	assert.Zero(t, stub.count(loginTwoFAPath))
}

func TestSubmitTwoFactorCode_StatusMapping(t *testing.T) {
	cases := map[int]console.ErrorKind{
		400: console.KindInvalidCode,
		401: console.KindSessionExpired,
		429: console.KindRateLimited,
		502: console.KindUnknown,
	}
	for status, want := range cases {
		c, st, _ := newClient(t, func(string) (int, string) { return status, `{"error":"x"}` })
		_, err := c.SubmitTwoFactorCode(context.Background(), "a@corp.io", "pw", "123456")
		assert.Equal(t, want, console.KindOf(err), "status %d", status)
		got, _ := st.Get(context.Background())
		assert.Nil(t, got)
	}
}

func TestExchangeOAuth2Redirect(t *testing.T) {
	t.Run("token with role claim", func(t *testing.T) {
		tok := signed(t, "g@corp.io", "EMPLOYEE")
		c, st, stub := newClient(t, func(string) (int, string) { return 500, `` })
		out, err := c.ExchangeOAuth2Redirect(context.Background(), url.Values{"token": {tok}, "user": {"g@corp.io"}})
		require.NoError(t, err)
		assert.Equal(t, console.RoleEmployee, out.Session.Role)
		got, _ := st.Get(context.Background())
		assert.True(t, got.HasRole())
		assert.Zero(t, stub.total())
	})

	t.Run("token without role is partial", func(t *testing.T) {
		c, st, _ := newClient(t, func(string) (int, string) { return 500, `` })
		_, err := c.ExchangeOAuth2Redirect(context.Background(), url.Values{"token": {"opaque"}, "user": {"g@corp.io"}})
		require.NoError(t, err)
		got, _ := st.Get(context.Background())
		assert.True(t, got.Authenticated())
		assert.False(t, got.HasRole())
	})

	t.Run("error", func(t *testing.T) {
		c, st, _ := newClient(t, func(string) (int, string) { return 500, `` })
		_, err := c.ExchangeOAuth2Redirect(context.Background(), url.Values{"error": {"oauth2_failed"}})
		assert.ErrorIs(t, err, console.ErrOAuth2Failed)
		got, _ := st.Get(context.Background())
		assert.Nil(t, got)
	})

	t.Run("nothing", func(t *testing.T) {
		c, _, _ := newClient(t, func(string) (int, string) { return 500, `` })
		_, err := c.ExchangeOAuth2Redirect(context.Background(), url.Values{})
		assert.ErrorIs(t, err, console.ErrNoCredentials)
	})

	t.Run("token and user win over error", func(t *testing.T) {
		tok := signed(t, "g@corp.io", "HR")
		c, st, _ := newClient(t, func(string) (int, string) { return 500, `` })
		out, err := c.ExchangeOAuth2Redirect(context.Background(), url.Values{"token": {tok}, "user": {"g@corp.io"}, "error": {"access_denied"}})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAuthenticated, out.Status)
		got, _ := st.Get(context.Background())
		assert.Equal(t, tok, got.Token)
	})
}

func TestExchangeOAuth2RedirectURL(t *testing.T) {
	tok := signed(t, "g@corp.io", "ADMIN")
	c, st, _ := newClient(t, func(string) (int, string) { return 500, `` })
	out, err := c.ExchangeOAuth2RedirectURL(context.Background(), "http://localhost:3000/oauth2/redirect?token="+tok+"&user=g%40corp.io")
	require.NoError(t, err)
	assert.Equal(t, console.RoleAdmin, out.Session.Role)
	got, _ := st.Get(context.Background())
	assert.Equal(t, "g@corp.io", got.UserEmail)

	_, err = c.ExchangeOAuth2RedirectURL(context.Background(), "http://[::1")
	assert.Equal(t, console.KindInvalidFormat, console.KindOf(err))
}

func TestLogout_ClearsAndNotifiesOnce(t *testing.T) {
	c, st, stub := newClient(t, func(string) (int, string) { return 200, `{"message":"Logged out successfully"}` })
	require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", Role: console.RoleHR, SessionID: "sid"}))

	require.NoError(t, c.Logout(context.Background()))
	require.NoError(t, c.Logout(context.Background()))

	got, _ := st.Get(context.Background())
	assert.Nil(t, got)
	assert.Equal(t, 1, stub.count(logoutPath))
	assert.Equal(t, "Bearer tok", stub.bearer(logoutPath))
	assert.JSONEq(t, `{"sessionId":"sid"}`, stub.sent(logoutPath))
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	for _, status := range []int{500, 401} {
		c, st, _ := newClient(t, func(string) (int, string) { return status, `` })
		require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", Role: console.RoleHR, SessionID: "sid"}))
		assert.NoError(t, c.Logout(context.Background()))
		got, _ := st.Get(context.Background())
		assert.Nil(t, got)
	}
}

func TestLogout_NetworkFailureStillClears(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	st := store.NewMemory()
	require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", Role: console.RoleHR, SessionID: "sid"}))
	c := New(rest.New(addr, st, rest.WithTimeout(time.Second)), st)

	assert.NoError(t, c.Logout(context.Background()))
	got, _ := st.Get(context.Background())
	assert.Nil(t, got)
}

func TestLogout_OAuth2SessionUsesEmail(t *testing.T) {
	c, st, stub := newClient(t, func(string) (int, string) { return 200, `{}` })
	require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", UserEmail: "g@corp.io"}))
	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, 1, stub.count(oauth2LogoutPath))
	assert.JSONEq(t, `{"email":"g@corp.io"}`, stub.sent(oauth2LogoutPath))
}

func TestLogout_ConcurrentCallsNotifyOnce(t *testing.T) {
	var hits atomic.Int32
	c, st, _ := newClient(t, func(path string) (int, string) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		return 200, `{}`
	})
	require.NoError(t, st.Set(context.Background(), console.Session{Token: "tok", Role: console.RoleHR, SessionID: "sid"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Logout(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, hits.Load())
}

func TestAuditEventsEmitted(t *testing.T) {
	var mu sync.Mutex
	var events []audit.Event
	logger := audit.New(10, audit.WithHandler(func(e audit.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}))

	c, _, _ := newClient(t, func(string) (int, string) { return 401, `{"error":"bad"}` }, WithAudit(logger))
	_, _ = c.Login(context.Background(), "a@corp.io", "pw")
	require.NoError(t, logger.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionLogin, events[0].Action)
	assert.Equal(t, audit.ResultFailure, events[0].Result)
	assert.Equal(t, "a@corp.io", events[0].UserEmail)
}
