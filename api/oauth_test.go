package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"authcenter/config"
	"authcenter/middleware"
	"authcenter/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupOAuthTest(t *testing.T) func() {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "debug"},
		JWT:    config.JWTConfig{Secret: "test-secret", ExpireTime: 24 * time.Hour},
		Feishu: config.FeishuConfig{
			Enabled:     true,
			AppID:       "cli_test",
			AppSecret:   "secret",
			RedirectURI: "https://auth.example.com/api/v1/oauth/feishu/callback",
		},
		LinuxDo: config.LinuxDoConfig{
			Enabled:      true,
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "https://auth.example.com/api/v1/oauth/linuxdo/callback",
		},
	}
	config.GlobalConfig = cfg
	middleware.InitJWT(cfg)
	return func() { config.GlobalConfig = nil }
}

func TestFeishuAuthorize_Redirect(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := config.GlobalConfig
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), service.NewAuthService(db))
	router := gin.New()
	router.GET("/authorize", handler.Authorize)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/authorize", nil))

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.feishu.cn", loc.Host)
	assert.Equal(t, "cli_test", loc.Query().Get("app_id"))
	assert.NotEmpty(t, loc.Query().Get("state"))

	// state 同步写入 cookie，回调时校验
	cookies := w.Result().Cookies()
	var found bool
	for _, ck := range cookies {
		if ck.Name == feishuStateCookie && ck.Value == loc.Query().Get("state") {
			found = true
		}
	}
	assert.True(t, found, "state cookie 未下发")
}

func TestFeishuAuthorize_Disabled(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := &config.Config{Feishu: config.FeishuConfig{Enabled: false}}
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), service.NewAuthService(db))
	router := gin.New()
	router.GET("/authorize", handler.Authorize)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/authorize", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "未启用")
}

func TestFeishuCallback_MissingCode(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := config.GlobalConfig
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), service.NewAuthService(db))
	router := gin.New()
	router.GET("/callback", handler.Callback)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/callback", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "授权码")
}

func TestFeishuCallback_StateMismatch(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := config.GlobalConfig
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), service.NewAuthService(db))
	router := gin.New()
	router.GET("/callback", handler.Callback)

	req := httptest.NewRequest("GET", "/callback?code=abc&state=forged", nil)
	req.AddCookie(&http.Cookie{Name: feishuStateCookie, Value: "original"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "state")
}

func TestFeishuGetConfig(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := config.GlobalConfig
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), service.NewAuthService(db))
	router := gin.New()
	router.GET("/config", handler.GetConfig)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/config", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cli_test")
	assert.Contains(t, w.Body.String(), "auth_url")
	// app_secret 绝不下发给前端
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestLinuxDoAuthorize_Redirect(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := config.GlobalConfig
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewLinuxDoAuthHandler(cfg, service.NewLinuxDoOAuth(&cfg.LinuxDo), service.NewAuthService(db))
	router := gin.New()
	router.GET("/authorize", handler.Authorize)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/authorize", nil))

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "connect.linux.do", loc.Host)
	assert.Equal(t, "client-id", loc.Query().Get("client_id"))
	assert.NotEmpty(t, loc.Query().Get("state"))
}

func TestLinuxDoCallback_Disabled(t *testing.T) {
	cleanup := setupOAuthTest(t)
	defer cleanup()

	cfg := &config.Config{LinuxDo: config.LinuxDoConfig{Enabled: false}}
	db, _, closeFn := setupMockDB(t)
	defer closeFn()

	handler := NewLinuxDoAuthHandler(cfg, service.NewLinuxDoOAuth(&cfg.LinuxDo), service.NewAuthService(db))
	router := gin.New()
	router.GET("/callback", handler.Callback)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/callback?code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
