package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/cache"
	"github.com/YvesL-Web/project-manager/internal/queue"
	"github.com/YvesL-Web/project-manager/internal/store/memory"
)

type recordedEmails struct {
	mu   sync.Mutex
	jobs []queue.EmailJob
}

func (q *recordedEmails) Enqueue(_ context.Context, job queue.EmailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordedEmails) sent() []queue.EmailJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.EmailJob(nil), q.jobs...)
}

type apiOptions struct {
	mode  TransportMode
	store auth.Store
	ready ReadyProbe
}

type apiClient struct {
	t         *testing.T
	mode      TransportMode
	server    *httptest.Server
	client    *http.Client
	clock     *testClock
	codec     *auth.Codec
	directory *auth.RBACService
	emails    *recordedEmails
	roles     map[string]*auth.Role
	users     map[string]*auth.User
}

func newTestAPI(t *testing.T, opts apiOptions) *apiClient {
	t.Helper()
	captureLogs(t)
	ctx := context.Background()

	mem := memory.New()
	store := opts.store
	if store == nil {
		store = mem
	}
	clock := newTestClock()
	codec, err := auth.NewCodec("api-secret",
		auth.WithAccessTTL(time.Hour),
		auth.WithRefreshTTL(7*24*time.Hour),
		auth.WithCodecClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	resolver := auth.NewResolver(store.Users(ctx), store.Roles(ctx), cache.NewMemory(128, time.Minute))
	sessions, err := auth.NewService(store, codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	emails := &recordedEmails{}
	directory, err := auth.NewRBACService(store, resolver, emails)
	if err != nil {
		t.Fatalf("NewRBACService: %v", err)
	}
	api, err := New(Deps{
		Sessions:        sessions,
		Directory:       directory,
		Resolver:        resolver,
		Ready:           opts.ready,
		Mode:            opts.mode,
		LoginRateBurst:  100,
		LoginRatePerSec: 100,
		Version:         "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	c := &apiClient{
		t:         t,
		mode:      api.gate.Mode(),
		server:    server,
		client:    server.Client(),
		clock:     clock,
		codec:     codec,
		directory: directory,
		emails:    emails,
		roles:     map[string]*auth.Role{},
		users:     map[string]*auth.User{},
	}
	c.seedRole("admin", auth.JoinRights(auth.SortedPermissions()))
	c.seedRole("viewer", auth.JoinRights([]string{auth.PermGetAllUsers, auth.PermGetDetailsUser}))
	c.seedUser("alice", "admin")
	c.seedUser("bob", "viewer")
	return c
}

func (c *apiClient) seedRole(name, rights string) {
	c.t.Helper()
	role, err := c.directory.CreateRole(context.Background(), auth.RoleInput{Name: name, Rights: rights})
	if err != nil {
		c.t.Fatalf("seed role %s: %v", name, err)
	}
	c.roles[name] = role
}

func (c *apiClient) seedUser(username, role string) {
	c.t.Helper()
	user, err := c.directory.CreateUser(context.Background(), auth.UserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password-" + username,
		RoleID:   c.roles[role].ID,
	})
	if err != nil {
		c.t.Fatalf("seed user %s: %v", username, err)
	}
	c.users[username] = user
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
	cookies []*http.Cookie
}

func (c *apiClient) do(r request) *http.Response {
	c.t.Helper()
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(r.method, c.server.URL+r.path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range r.cookies {
		req.AddCookie(ck)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", r.method, r.path, err)
	}
	return resp
}

// loginCookies logs in as username and returns the access and refresh cookies.
func (c *apiClient) loginCookies(username string) (*http.Cookie, *http.Cookie) {
	c.t.Helper()
	resp := c.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email":    username + "@example.com",
		"password": "password-" + username,
	}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var access, refresh *http.Cookie
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case accessCookie:
			access = ck
		case refreshCookie:
			refresh = ck
		}
	}
	if access == nil || refresh == nil {
		c.t.Fatalf("login %s: missing session cookies", username)
	}
	return &http.Cookie{Name: access.Name, Value: access.Value}, &http.Cookie{Name: refresh.Name, Value: refresh.Value}
}

// sessionHeaders issues an access token for username directly from the codec and
// carries it the way the API's transport mode expects.
func (c *apiClient) sessionHeaders(username string) map[string]string {
	c.t.Helper()
	token, _, err := c.codec.Issue(auth.SubjectOf(c.users[username]), auth.KindAccess)
	if err != nil {
		c.t.Fatalf("issue: %v", err)
	}
	if c.mode == TransportHeader {
		return map[string]string{"Authorization": "Bearer " + token}
	}
	return map[string]string{"Cookie": (&http.Cookie{Name: accessCookie, Value: token}).String()}
}

type apiEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func decodeData[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	env := decode[apiEnvelope](t, r)
	if env.Status != "success" {
		t.Fatalf("expected success envelope, got %+v", env)
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func expectError(t *testing.T, r *http.Response, code int, msg string) {
	t.Helper()
	if r.StatusCode != code {
		r.Body.Close()
		t.Fatalf("expected %d, got %d", code, r.StatusCode)
	}
	env := decode[apiEnvelope](t, r)
	if env.StatusCode != code || env.Status != "error" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if msg != "" && env.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, env.Message)
	}
}

func TestPing(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodGet, path: "/ping"})
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Fatalf("unexpected ping response: %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodGet, path: "/healthz"})
	health := decodeData[map[string]any](t, resp)
	if health["version"] != "test" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.do(request{method: http.MethodGet, path: "/readyz"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	failing := newTestAPI(t, apiOptions{ready: ReadyProbe{DB: pingFunc(func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})}})
	resp = failing.do(request{method: http.MethodGet, path: "/readyz"})
	expectError(t, resp, http.StatusServiceUnavailable, "Not ready")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodGet, path: "/metrics"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", resp.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodGet, path: "/nope"})
	expectError(t, resp, http.StatusNotFound, "")
}

func TestLoginFailures(t *testing.T) {
	api := newTestAPI(t, apiOptions{})

	resp := api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email": "nobody@example.com", "password": "whatever123",
	}})
	expectError(t, resp, http.StatusNotFound, "Email not found")

	resp = api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	}})
	expectError(t, resp, http.StatusBadRequest, "Invalid credentials")

	resp = api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email": "alice@example.com",
	}})
	expectError(t, resp, http.StatusBadRequest, "")

	resp = api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]any{
		"email": "alice@example.com", "password": "password-alice", "remember": true,
	}})
	expectError(t, resp, http.StatusBadRequest, "invalid JSON body")
}

func TestLoginIsCaseInsensitiveOnEmail(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email": " Alice@Example.COM ", "password": "password-alice",
	}})
	user := decodeData[map[string]any](t, resp)
	if user["username"] != "alice" {
		t.Fatalf("unexpected user: %v", user)
	}
	if _, leaked := user["password"]; leaked {
		t.Fatalf("password hash leaked: %v", user)
	}
}

// Login, then keep using the session across access expiry until the refresh token expires.
func TestCookieSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	access, refresh := api.loginCookies("alice")

	resp := api.do(request{method: http.MethodGet, path: "/api/me", cookies: []*http.Cookie{access, refresh}})
	me := decodeData[meResponse](t, resp)
	if me.Username != "alice" || me.UserID != api.users["alice"].ID {
		t.Fatalf("unexpected /me: %+v", me)
	}
	if len(me.Rights) != len(auth.AllPermissions()) {
		t.Fatalf("admin should hold every right, got %d", len(me.Rights))
	}

	api.clock.Advance(61 * time.Minute)
	resp = api.do(request{method: http.MethodGet, path: "/api/users", cookies: []*http.Cookie{access, refresh}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected refresh to admit request, got %d", resp.StatusCode)
	}
	var reissued *http.Cookie
	count := 0
	for _, ck := range resp.Cookies() {
		if ck.Name == accessCookie {
			reissued = ck
			count++
		}
	}
	resp.Body.Close()
	if count != 1 || reissued.Value == access.Value {
		t.Fatalf("expected one fresh access cookie, got %d", count)
	}

	fresh := &http.Cookie{Name: accessCookie, Value: reissued.Value}
	resp = api.do(request{method: http.MethodGet, path: "/api/me", cookies: []*http.Cookie{fresh}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reissued access cookie rejected: %d", resp.StatusCode)
	}
	if len(resp.Cookies()) != 0 {
		t.Fatalf("valid access must not reissue")
	}
	resp.Body.Close()

	api.clock.Advance(7 * 24 * time.Hour)
	resp = api.do(request{method: http.MethodGet, path: "/api/me", cookies: []*http.Cookie{fresh, refresh}})
	if len(resp.Cookies()) != 0 {
		t.Fatalf("no token may be issued once the refresh token expired")
	}
	expectError(t, resp, http.StatusForbidden, "Invalid or expired refresh token")
}

func TestGatedRoutesRequireTokens(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	for _, path := range []string{"/api/me", "/api/users", "/api/roles", "/api/permissions"} {
		resp := api.do(request{method: http.MethodGet, path: path})
		expectError(t, resp, http.StatusUnauthorized, "Missing Authorization Tokens")
	}
}

func TestHeaderTransportLogin(t *testing.T) {
	api := newTestAPI(t, apiOptions{mode: TransportHeader})
	resp := api.do(request{method: http.MethodPost, path: "/api/login", body: map[string]string{
		"email": "bob@example.com", "password": "password-bob",
	}})
	if len(resp.Cookies()) != 0 {
		t.Fatalf("header mode must not set cookies")
	}
	tokens := decodeData[tokenResponse](t, resp)
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", tokens)
	}

	api.clock.Advance(2 * time.Hour)
	resp = api.do(request{method: http.MethodGet, path: "/api/me", headers: map[string]string{
		"Authorization":    "Bearer " + tokens.AccessToken,
		refreshTokenHeader: tokens.RefreshToken,
	}})
	if resp.Header.Get(accessTokenHeader) == "" {
		t.Fatalf("expected reissued access token header")
	}
	me := decodeData[meResponse](t, resp)
	if me.Username != "bob" {
		t.Fatalf("unexpected /me: %+v", me)
	}
}

func TestRefreshTokenEndpoint(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	_, refresh := api.loginCookies("bob")

	resp := api.do(request{method: http.MethodPost, path: "/api/refresh_token", body: map[string]string{
		"refreshToken": refresh.Value,
	}})
	tokens := decodeData[tokenResponse](t, resp)
	sub, err := api.codec.Verify(tokens.AccessToken)
	if err != nil || sub.Username != "bob" {
		t.Fatalf("refreshed token invalid: %v %+v", err, sub)
	}

	resp = api.do(request{method: http.MethodPost, path: "/api/refresh_token", cookies: []*http.Cookie{refresh}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected cookie fallback to work, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.do(request{method: http.MethodPost, path: "/api/refresh_token", body: map[string]string{
		"refreshToken": "not-a-token",
	}})
	expectError(t, resp, http.StatusForbidden, "Invalid Refresh Token")

	api.clock.Advance(8 * 24 * time.Hour)
	resp = api.do(request{method: http.MethodPost, path: "/api/refresh_token", body: map[string]string{
		"refreshToken": refresh.Value,
	}})
	expectError(t, resp, http.StatusForbidden, "Invalid Refresh Token")
}

// A chunked request with an empty body has no Content-Length and still falls back to the cookie.
func TestRefreshTokenEmptyChunkedBody(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	_, refresh := api.loginCookies("bob")

	req := httptest.NewRequest(http.MethodPost, "/api/refresh_token", io.NopCloser(strings.NewReader("")))
	req.ContentLength = -1
	req.AddCookie(refresh)
	rec := httptest.NewRecorder()
	api.server.Config.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var tokens tokenResponse
	if err := json.Unmarshal(env.Data, &tokens); err != nil || tokens.AccessToken == "" {
		t.Fatalf("missing access token: %v %s", err, env.Data)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/refresh_token", strings.NewReader("{"))
	req.AddCookie(refresh)
	rec = httptest.NewRecorder()
	api.server.Config.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body must still be rejected, got %d", rec.Code)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	resp := api.do(request{method: http.MethodPost, path: "/api/logout"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}
	cleared := map[string]bool{}
	for _, ck := range resp.Cookies() {
		if ck.MaxAge < 0 && ck.Value == "" {
			cleared[ck.Name] = true
		}
	}
	if !cleared[accessCookie] || !cleared[refreshCookie] {
		t.Fatalf("expected both cookies cleared, got %v", resp.Cookies())
	}
}

func TestLoginRateLimited(t *testing.T) {
	api := newTestAPI(t, apiOptions{})
	limited, err := New(Deps{
		Sessions:        mustSessions(t, api),
		Directory:       api.directory,
		Resolver:        auth.NewResolver(memory.New().Users(context.Background()), memory.New().Roles(context.Background()), nil),
		LoginRateBurst:  1,
		LoginRatePerSec: 0.001,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(limited.Handler())
	defer server.Close()

	body := `{"email":"nobody@example.com","password":"whatever123"}`
	for i, want := range []int{http.StatusNotFound, http.StatusTooManyRequests} {
		resp, err := server.Client().Post(server.URL+"/api/login", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("attempt %d: expected %d, got %d", i, want, resp.StatusCode)
		}
	}
}

func mustSessions(t *testing.T, api *apiClient) *auth.Service {
	t.Helper()
	s, err := auth.NewService(memory.New(), api.codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return s
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error without services")
	}
}
