package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/willemschots/dreambig/assets"
	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/auth/accesstoken"
	authdb "github.com/willemschots/dreambig/internal/auth/db"
	"github.com/willemschots/dreambig/internal/csrf"
	"github.com/willemschots/dreambig/internal/db/testdb"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/email/view"
	"github.com/willemschots/dreambig/internal/krypto"
	"github.com/willemschots/dreambig/internal/ratelimit"
	"github.com/willemschots/dreambig/internal/web"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "reallyStrong1!"
)

func Test_Server_UserJourney(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})
	c := ht.client()

	c.fetchCSRFToken()

	res := c.postJSON("/api/v1/auth/register", map[string]any{
		"email":    aliceEmail,
		"name":     "Alice",
		"password": alicePassword,
	})
	res.assertStatus(http.StatusCreated)
	if res.body["email"] != aliceEmail || res.body["email_verified"] != false || res.body["role"] != "user" {
		t.Fatalf("unexpected user: %v", res.body)
	}

	ht.svc.Wait()
	ht.assertSubjects("Welcome to DreamBig!", "Verify Your Email - DreamBig")

	res = c.login(aliceEmail, alicePassword)
	res.assertError(http.StatusBadRequest, "Email not verified. Please check your email for verification link.")

	res = c.postJSON("/api/v1/auth/email-verification/verify", map[string]any{
		"token": ht.lastToken("Verification token: "),
	})
	res.assertMessage("Email verified successfully")

	res = c.login(aliceEmail, alicePassword)
	res.assertStatus(http.StatusOK)
	if res.body["token_type"] != "bearer" || res.body["access_token"] == "" || res.body["csrf_token"] == "" {
		t.Fatalf("unexpected login response: %v", res.body)
	}
	c.accessToken = res.body["access_token"].(string)
	c.csrfToken = res.body["csrf_token"].(string)

	if res.cookie(csrf.SessionCookieName) == nil || res.cookie(csrf.CookieName) == nil {
		t.Fatalf("expected session and csrf cookies to be set")
	}

	res = c.get("/api/v1/auth/me")
	res.assertStatus(http.StatusOK)
	if res.body["email"] != aliceEmail || res.body["email_verified"] != true {
		t.Fatalf("unexpected user: %v", res.body)
	}

	res = c.putJSON("/api/v1/auth/me", map[string]any{"name": "Alice Cooper"})
	res.assertStatus(http.StatusOK)
	if res.body["name"] != "Alice Cooper" || res.body["email"] != aliceEmail {
		t.Fatalf("unexpected user: %v", res.body)
	}

	res = c.postJSON("/api/v1/auth/password-change", map[string]any{
		"current_password": "wrongPassword1!",
		"new_password":     "evenStronger2?",
	})
	res.assertError(http.StatusBadRequest, "Current password is incorrect")

	res = c.postJSON("/api/v1/auth/password-change", map[string]any{
		"current_password": alicePassword,
		"new_password":     "evenStronger2?",
	})
	res.assertMessage("Password changed successfully")

	res = c.postJSON("/api/v1/auth/logout", nil)
	res.assertMessage("Logged out successfully")
	if ck := res.cookie(csrf.CookieName); ck == nil || ck.MaxAge >= 0 {
		t.Fatalf("expected csrf cookie to be cleared")
	}

	c.accessToken = ""
	c.fetchCSRFToken()

	res = c.login(aliceEmail, alicePassword)
	res.assertError(http.StatusUnauthorized, "Incorrect email or password")

	res = c.login(aliceEmail, "evenStronger2?")
	res.assertStatus(http.StatusOK)
}

func Test_Server_PasswordReset(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})
	ht.registerVerified(aliceEmail)

	c := ht.client()
	c.fetchCSRFToken()

	res := c.postJSON("/api/v1/auth/password-reset/request", map[string]any{"email": aliceEmail})
	res.assertMessage("If the email exists, a password reset link has been sent")

	res = c.postJSON("/api/v1/auth/password-reset/request", map[string]any{"email": "bob@example.com"})
	res.assertMessage("If the email exists, a password reset link has been sent")

	ht.svc.Wait()
	token := ht.lastToken("Reset token: ")

	res = c.postJSON("/api/v1/auth/password-reset/confirm", map[string]any{
		"token":        token,
		"new_password": "weak",
	})
	res.assertStatus(http.StatusBadRequest)
	if !strings.Contains(res.detail(), "new_password") {
		t.Errorf("expected detail to name the field, got %q", res.detail())
	}

	res = c.postJSON("/api/v1/auth/password-reset/confirm", map[string]any{
		"token":        token,
		"new_password": "evenStronger2?",
	})
	res.assertMessage("Password has been reset successfully")

	res = c.postJSON("/api/v1/auth/password-reset/confirm", map[string]any{
		"token":        token,
		"new_password": "evenStronger3?",
	})
	res.assertError(http.StatusBadRequest, "Invalid or expired token")

	res = c.login(aliceEmail, "evenStronger2?")
	res.assertStatus(http.StatusOK)
}

func Test_Server_Resend(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})
	c := ht.client()
	c.fetchCSRFToken()

	res := c.postJSON("/api/v1/auth/register", map[string]any{
		"email":    aliceEmail,
		"name":     "Alice",
		"password": alicePassword,
	})
	res.assertStatus(http.StatusCreated)

	res = c.postJSON("/api/v1/auth/email-verification/resend", map[string]any{"email": aliceEmail})
	res.assertError(http.StatusTooManyRequests, "Please wait before requesting another verification email")

	res = c.postJSON("/api/v1/auth/email-verification/resend", map[string]any{"email": "bob@example.com"})
	res.assertMessage("If the email exists and is not verified, a verification email has been sent")
}

func Test_Server_InvalidInput(t *testing.T) {
	tests := map[string]struct {
		body       any
		wantDetail []string
	}{
		"weak password": {
			body:       map[string]any{"email": aliceEmail, "name": "Alice", "password": "password"},
			wantDetail: []string{"password", "weak password"},
		},
		"invalid email": {
			body:       map[string]any{"email": "alice", "name": "Alice", "password": alicePassword},
			wantDetail: []string{"email: invalid email address"},
		},
		"missing fields": {
			body:       map[string]any{},
			wantDetail: []string{"email: field is required", "name: field is required", "password: field is required"},
		},
		"empty name": {
			body:       map[string]any{"email": aliceEmail, "name": "  ", "password": alicePassword},
			wantDetail: []string{"name: must be between 1 and 255 bytes"},
		},
		"not an object": {
			body:       []string{"a"},
			wantDetail: []string{"body"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ht := newHTTPTest(t, web.ServerConfig{})
			c := ht.client()
			c.fetchCSRFToken()

			res := c.postJSON("/api/v1/auth/register", tc.body)
			res.assertStatus(http.StatusBadRequest)

			for _, want := range tc.wantDetail {
				if !strings.Contains(res.detail(), want) {
					t.Errorf("expected detail to contain %q, got %q", want, res.detail())
				}
			}
		})
	}
}

func Test_Server_CSRF(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})
	c := ht.client()

	body := map[string]any{"email": aliceEmail}

	res := c.postJSON("/api/v1/auth/password-reset/request", body)
	res.assertError(http.StatusForbidden, "CSRF token missing")

	c.csrfToken = "a:b:c"
	res = c.postJSON("/api/v1/auth/password-reset/request", body)
	res.assertError(http.StatusForbidden, "CSRF token invalid")

	c.fetchCSRFToken()
	res = c.postJSON("/api/v1/auth/password-reset/request", body)
	res.assertStatus(http.StatusOK)

	t.Run("fail, token of other session", func(t *testing.T) {
		ht.registerVerified(aliceEmail)

		other := ht.client()
		other.fetchCSRFToken()
		res := other.login(aliceEmail, alicePassword)
		res.assertStatus(http.StatusOK)
		other.accessToken = res.body["access_token"].(string)

		// Logged in session with the token issued before logging in.
		res = other.postJSON("/api/v1/auth/logout", nil)
		res.assertError(http.StatusForbidden, "CSRF token invalid")
	})
}

func Test_Server_Bearer(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})

	tests := map[string]struct {
		header     string
		wantDetail string
	}{
		"no header":      {"", "Not authenticated"},
		"wrong scheme":   {"Basic abc", "Could not validate credentials"},
		"garbage token":  {"Bearer abc", "Could not validate credentials"},
		"unknown user":   {"Bearer " + ht.accessTokenFor(t, "00000000-0000-0000-0000-000000000001"), "Could not validate credentials"},
		"expired":        {"Bearer " + ht.expiredAccessToken(t), "Could not validate credentials"},
		"other key used": {"Bearer " + otherKeyAccessToken(t), "Could not validate credentials"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := ht.client()
			req := c.newRequest(http.MethodGet, "/api/v1/auth/me", nil, "")
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}

			res := c.do(req)
			res.assertError(http.StatusUnauthorized, tc.wantDetail)
			if res.header.Get("WWW-Authenticate") != "Bearer" {
				t.Errorf("expected WWW-Authenticate header")
			}
		})
	}
}

func Test_Server_RateLimits(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		ht := newHTTPTest(t, web.ServerConfig{})
		c := ht.client()
		c.fetchCSRFToken()

		for i := range 5 {
			res := c.login("nobody@example.com", alicePassword)
			if res.status != http.StatusUnauthorized {
				t.Fatalf("attempt %d: expected status %d, got %d", i, http.StatusUnauthorized, res.status)
			}
			if res.header.Get("X-RateLimit-Limit") != "5" {
				t.Errorf("unexpected limit header %q", res.header.Get("X-RateLimit-Limit"))
			}
		}

		res := c.login("nobody@example.com", alicePassword)
		res.assertError(http.StatusTooManyRequests, "Rate limit exceeded")
		if res.header.Get("Retry-After") != "300" {
			t.Errorf("expected Retry-After 300, got %q", res.header.Get("Retry-After"))
		}
	})

	t.Run("pipeline order", func(t *testing.T) {
		tests := map[string]struct {
			csrfFirst  bool
			wantStatus int
		}{
			"rate limit first": {false, http.StatusTooManyRequests},
			"csrf first":       {true, http.StatusForbidden},
		}

		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				ht := newHTTPTest(t, web.ServerConfig{
					CSRFBeforeRateLimit: tc.csrfFirst,
					DefaultLimit:        1,
				})
				c := ht.client()

				res := c.get("/healthz")
				res.assertStatus(http.StatusOK)

				// No CSRF token and over the global limit.
				res = c.postJSON("/api/v1/auth/password-reset/request", map[string]any{"email": aliceEmail})
				res.assertStatus(tc.wantStatus)
			})
		}
	})
}

func Test_Server_Healthz(t *testing.T) {
	ht := newHTTPTest(t, web.ServerConfig{})
	res := ht.client().get("/healthz")
	res.assertStatus(http.StatusOK)

	if res.body["status"] != "ok" || res.body["rate_limiter"] != "memory" {
		t.Errorf("unexpected body: %v", res.body)
	}

	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if res.header.Get(h) == "" {
			t.Errorf("expected header %s", h)
		}
	}
}

type httpTest struct {
	t       *testing.T
	srv     *httptest.Server
	svc     *auth.Service
	verify  *auth.VerificationManager
	tokens  *accesstoken.Issuer
	sender  *email.MemorySender
	errMu   sync.Mutex
	errs    []error
	logBuf  *bytes.Buffer
	tokenKy krypto.Key
}

func newHTTPTest(t *testing.T, cfg web.ServerConfig) *httpTest {
	t.Helper()

	encryptor := must(krypto.NewEncryptor([]krypto.Key{
		must(krypto.ParseKey("2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d")),
	}))
	indexKey := must(krypto.ParseKey("90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf"))
	tokenKey := must(krypto.ParseKey("5e1f0c6a3b2d4e8f9a7b6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f0a9b8c7d6e5f"))
	jwtKey := must(krypto.ParseKey("0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0"))

	ht := &httpTest{
		t:       t,
		sender:  email.NewMemorySender(),
		logBuf:  &bytes.Buffer{},
		tokenKy: jwtKey,
	}

	store := authdb.New(testdb.RunWhile(t, true), encryptor, indexKey)
	emails := email.NewService(view.NewFSRenderer(assets.EmailFS), ht.sender, "noreply@example.com", "http://localhost")
	notifier := auth.NewNotifier(emails, ht.appendErr, 5*time.Second)

	ht.verify = auth.NewVerificationManager(store, tokenKey, notifier, auth.DefaultVerificationConfig())
	resets := auth.NewResetManager(store, tokenKey, notifier, auth.DefaultResetConfig())
	ht.svc = must(auth.NewService(store, notifier, ht.verify))
	ht.tokens = accesstoken.NewIssuer(jwtKey, 30*time.Minute)

	csrfCfg := csrf.DefaultConfig()
	csrfCfg.Secure = false

	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = 1000
	}
	if cfg.DefaultWindow == 0 {
		cfg.DefaultWindow = time.Minute
	}
	cfg.SessionMaxAge = csrfCfg.Expiry

	srv := web.NewServer(&web.ServerDeps{
		Logger:         slog.New(slog.NewTextHandler(ht.logBuf, nil)),
		AuthService:    ht.svc,
		Resets:         resets,
		Verifications:  ht.verify,
		AccessTokens:   ht.tokens,
		CSRF:           csrf.NewManager(tokenKey, csrfCfg),
		Limiter:        ratelimit.NewMemory(),
		LimiterBackend: ratelimit.BackendMemory,
	}, cfg)

	ht.srv = httptest.NewServer(srv)
	t.Cleanup(func() {
		ht.srv.Close()
		ht.svc.Wait()

		ht.errMu.Lock()
		defer ht.errMu.Unlock()
		if err := errors.Join(ht.errs...); err != nil {
			t.Errorf("unexpected async errors: %v", err)
		}
	})

	return ht
}

func (ht *httpTest) appendErr(err error) {
	ht.errMu.Lock()
	defer ht.errMu.Unlock()
	ht.errs = append(ht.errs, err)
}

func (ht *httpTest) client() *testClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		ht.t.Fatalf("failed to create cookie jar: %v", err)
	}

	return &testClient{
		t:    ht.t,
		base: ht.srv.URL,
		http: &http.Client{Jar: jar},
	}
}

// registerVerified registers a user through the service and verifies
// the email address.
func (ht *httpTest) registerVerified(addr string) {
	ht.t.Helper()

	_, err := ht.svc.Register(context.Background(), auth.Registration{
		Email:    must(email.ParseAddress(addr)),
		Name:     "Alice",
		Password: auth.StrongPassword{Password: must(auth.ParseStrongPassword(alicePassword))},
	})
	if err != nil {
		ht.t.Fatalf("failed to register: %v", err)
	}

	ht.svc.Wait()

	err = ht.verify.Verify(context.Background(), ht.lastToken("Verification token: "))
	if err != nil {
		ht.t.Fatalf("failed to verify: %v", err)
	}
}

// lastToken finds the token after prefix in the most recent email containing it.
func (ht *httpTest) lastToken(prefix string) string {
	ht.t.Helper()

	msgs := ht.sender.Emails()
	for i := len(msgs) - 1; i >= 0; i-- {
		for _, line := range strings.Split(msgs[i].Body, "\n") {
			if token, ok := strings.CutPrefix(line, prefix); ok {
				return strings.TrimSpace(token)
			}
		}
	}

	ht.t.Fatalf("no email with %q found", prefix)
	return ""
}

func (ht *httpTest) assertSubjects(want ...string) {
	ht.t.Helper()

	got := map[string]bool{}
	for _, msg := range ht.sender.Emails() {
		got[msg.Subject] = true
	}

	for _, subject := range want {
		if !got[subject] {
			ht.t.Errorf("expected an email with subject %q, got %v", subject, got)
		}
	}
}

func (ht *httpTest) accessTokenFor(t *testing.T, rawID string) string {
	t.Helper()
	return must(ht.tokens.Issue(must(uuid.Parse(rawID)), "user"))
}

func (ht *httpTest) expiredAccessToken(t *testing.T) string {
	t.Helper()
	issuer := accesstoken.NewIssuer(ht.tokenKy, time.Minute)
	issuer.NowFunc = func() time.Time { return time.Now().Add(-time.Hour) }
	return must(issuer.Issue(must(uuid.Parse("00000000-0000-0000-0000-000000000001")), "user"))
}

func otherKeyAccessToken(t *testing.T) string {
	t.Helper()
	key := must(krypto.ParseKey("1111111111111111111111111111111111111111111111111111111111111111"))
	return must(accesstoken.NewIssuer(key, time.Minute).Issue(must(uuid.Parse("00000000-0000-0000-0000-000000000001")), "user"))
}

type testClient struct {
	t           *testing.T
	base        string
	http        *http.Client
	csrfToken   string
	accessToken string
}

type testResponse struct {
	t       *testing.T
	status  int
	header  http.Header
	cookies []*http.Cookie
	body    map[string]any
}

func (c *testClient) newRequest(method, path string, body *bytes.Buffer, contentType string) *http.Request {
	c.t.Helper()

	if body == nil {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		c.t.Fatalf("failed to create request: %v", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.csrfToken != "" {
		req.Header.Set(csrf.HeaderName, c.csrfToken)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	return req
}

func (c *testClient) do(req *http.Request) *testResponse {
	c.t.Helper()

	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	res := &testResponse{
		t:       c.t,
		status:  resp.StatusCode,
		header:  resp.Header,
		cookies: resp.Cookies(),
		body:    map[string]any{},
	}

	err = json.NewDecoder(resp.Body).Decode(&res.body)
	if err != nil {
		c.t.Fatalf("failed to decode response with status %d: %v", resp.StatusCode, err)
	}

	return res
}

func (c *testClient) get(path string) *testResponse {
	c.t.Helper()
	return c.do(c.newRequest(http.MethodGet, path, nil, ""))
}

func (c *testClient) postJSON(path string, body any) *testResponse {
	c.t.Helper()
	return c.sendJSON(http.MethodPost, path, body)
}

func (c *testClient) putJSON(path string, body any) *testResponse {
	c.t.Helper()
	return c.sendJSON(http.MethodPut, path, body)
}

func (c *testClient) sendJSON(method, path string, body any) *testResponse {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		err := json.NewEncoder(&buf).Encode(body)
		if err != nil {
			c.t.Fatalf("failed to encode body: %v", err)
		}
	}

	return c.do(c.newRequest(method, path, &buf, "application/json"))
}

func (c *testClient) login(username, password string) *testResponse {
	c.t.Helper()

	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}

	buf := bytes.NewBufferString(form.Encode())
	return c.do(c.newRequest(http.MethodPost, "/api/v1/auth/login", buf, "application/x-www-form-urlencoded"))
}

func (c *testClient) fetchCSRFToken() {
	c.t.Helper()

	res := c.get("/api/v1/auth/csrf-token")
	res.assertStatus(http.StatusOK)

	token, ok := res.body["csrf_token"].(string)
	if !ok || token == "" {
		c.t.Fatalf("no csrf token in response: %v", res.body)
	}

	c.csrfToken = token
}

func (r *testResponse) assertStatus(want int) {
	r.t.Helper()
	if r.status != want {
		r.t.Fatalf("expected status %d, got %d: %v", want, r.status, r.body)
	}
}

func (r *testResponse) assertError(status int, detail string) {
	r.t.Helper()
	r.assertStatus(status)
	if r.detail() != detail {
		r.t.Fatalf("expected detail %q, got %q", detail, r.detail())
	}
}

func (r *testResponse) assertMessage(msg string) {
	r.t.Helper()
	r.assertStatus(http.StatusOK)
	if r.body["message"] != msg {
		r.t.Fatalf("expected message %q, got %v", msg, r.body)
	}
}

func (r *testResponse) detail() string {
	d, _ := r.body["detail"].(string)
	return d
}

func (r *testResponse) cookie(name string) *http.Cookie {
	for _, c := range r.cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
