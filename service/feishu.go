package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"authcenter/config"

	"golang.org/x/sync/singleflight"
)

// 飞书开放平台授权码登录流程：
// 获取 tenant_access_token -> 用授权码换 user_access_token -> 拉取用户信息
const (
	feishuAuthURL        = "https://accounts.feishu.cn/open-apis/authen/v1/authorize"
	feishuTenantTokenURL = "https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal"
	feishuAccessTokenURL = "https://open.feishu.cn/open-apis/authen/v1/access_token"
	feishuUserInfoURL    = "https://open.feishu.cn/open-apis/contact/v3/users"
	feishuDefaultScope   = "contact:contact.base:readonly"

	// tenant_access_token 提前 30 秒视为过期，避免对端临界失效
	tenantTokenSafetyMargin = 30 * time.Second

	providerHTTPTimeout = 10 * time.Second
)

// FeishuOAuth 飞书 OAuth2.0 客户端
// tenant_access_token 在进程内缓存，token 与过期时间总是在锁内成对更新
type FeishuOAuth struct {
	cfg        *config.FeishuConfig
	httpClient *http.Client
	now        func() time.Time

	// 端点可覆盖，测试时指向 httptest 服务
	authURL        string
	tenantTokenURL string
	accessTokenURL string
	userInfoURL    string

	mu             sync.Mutex
	tenantToken    string
	tenantExpireAt time.Time
	sf             singleflight.Group
}

// NewFeishuOAuth 创建飞书 OAuth 客户端
func NewFeishuOAuth(cfg *config.FeishuConfig) *FeishuOAuth {
	if !cfg.IsConfigured() {
		log.Println("警告: 飞书 OAuth 未完整配置，扫码登录将不可用")
	}
	return &FeishuOAuth{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: providerHTTPTimeout},
		now:            time.Now,
		authURL:        feishuAuthURL,
		tenantTokenURL: feishuTenantTokenURL,
		accessTokenURL: feishuAccessTokenURL,
		userInfoURL:    feishuUserInfoURL,
	}
}

// IsConfigured 检查飞书 OAuth 是否配置完整
func (f *FeishuOAuth) IsConfigured() bool {
	return f.cfg.IsConfigured()
}

// AuthorizationURL 构建授权页面 URL
// state 用于 CSRF 防护；redirectURI / scope 为空时使用配置与默认值
func (f *FeishuOAuth) AuthorizationURL(state, redirectURI, scope string) (string, error) {
	if !f.IsConfigured() {
		return "", ErrFeishuNotConfigured
	}

	params := url.Values{}
	params.Set("app_id", f.cfg.AppID)
	if redirectURI == "" {
		redirectURI = f.cfg.RedirectURI
	}
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	if scope == "" {
		scope = feishuDefaultScope
	}
	params.Set("scope", scope)
	if state != "" {
		params.Set("state", state)
	}
	return f.authURL + "?" + params.Encode(), nil
}

// FeishuTokenData 授权码兑换结果
type FeishuTokenData struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	OpenID           string `json:"open_id"`
	UnionID          string `json:"union_id"`
	TenantKey        string `json:"tenant_key"`
}

// FeishuUserInfo 归一化后的飞书用户资料
// GetUserByCode 会把 token 元数据一并填入
type FeishuUserInfo struct {
	OpenID          string `json:"open_id"`
	UnionID         string `json:"union_id"`
	Name            string `json:"name"`
	Avatar72        string `json:"avatar_72"`
	Avatar240       string `json:"avatar_240"`
	Avatar640       string `json:"avatar_640"`
	Email           string `json:"email"`
	EnterpriseEmail string `json:"enterprise_email"`
	Mobile          string `json:"mobile"`
	UserID          string `json:"user_id"`
	TenantKey       string `json:"tenant_key"`

	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TenantAccessToken 获取（或复用）tenant_access_token
// 缓存命中且未到期时不发起网络请求；并发刷新经 singleflight 合并为一次
func (f *FeishuOAuth) TenantAccessToken(forceRefresh bool) (string, error) {
	if !f.IsConfigured() {
		return "", ErrFeishuNotConfigured
	}

	if !forceRefresh {
		f.mu.Lock()
		if f.tenantToken != "" && f.now().Before(f.tenantExpireAt) {
			token := f.tenantToken
			f.mu.Unlock()
			return token, nil
		}
		f.mu.Unlock()
	}

	v, err, _ := f.sf.Do("tenant_access_token", func() (interface{}, error) {
		return f.refreshTenantToken()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refreshTenantToken 请求新的 tenant_access_token 并更新缓存
// 网络请求不持锁；token 与过期时间在锁内成对写入
func (f *FeishuOAuth) refreshTenantToken() (string, error) {
	payload := map[string]string{
		"app_id":     f.cfg.AppID,
		"app_secret": f.cfg.AppSecret,
	}
	body, err := f.postJSON(f.tenantTokenURL, "", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", newProviderError("feishu", "解析 tenant_access_token 响应失败", err)
	}
	if resp.Code != 0 {
		return "", newProviderError("feishu", fmt.Sprintf("获取 tenant_access_token 失败: %s", resp.Msg), nil)
	}

	expire := resp.Expire
	if expire <= 0 {
		expire = 3600
	}

	f.mu.Lock()
	f.tenantToken = resp.TenantAccessToken
	f.tenantExpireAt = f.now().Add(time.Duration(expire)*time.Second - tenantTokenSafetyMargin)
	f.mu.Unlock()

	log.Println("成功获取飞书 tenant_access_token")
	return resp.TenantAccessToken, nil
}

// ExchangeCode 用授权码换取 user_access_token 与 open_id
func (f *FeishuOAuth) ExchangeCode(code string) (*FeishuTokenData, error) {
	tenantToken, err := f.TenantAccessToken(false)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"grant_type": "authorization_code",
		"code":       code,
	}
	body, err := f.postJSON(f.accessTokenURL, tenantToken, payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data FeishuTokenData `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError("feishu", "解析 access_token 响应失败", err)
	}
	if resp.Code != 0 {
		return nil, newProviderError("feishu", fmt.Sprintf("获取用户 access_token 失败: %s", resp.Msg), nil)
	}
	if resp.Data.OpenID == "" {
		return nil, newProviderError("feishu", "返回数据缺少 open_id", nil)
	}
	return &resp.Data, nil
}

// FetchProfile 使用 tenant_access_token 拉取并归一化用户资料
func (f *FeishuOAuth) FetchProfile(openID string) (*FeishuUserInfo, error) {
	tenantToken, err := f.TenantAccessToken(false)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s?user_id_type=open_id", f.userInfoURL, url.PathEscape(openID))
	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newProviderError("feishu", "创建请求失败", err)
	}
	req.Header.Set("Authorization", "Bearer "+tenantToken)
	req.Header.Set("Content-Type", "application/json")

	body, err := f.doRequest(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			User struct {
				OpenID  string `json:"open_id"`
				UnionID string `json:"union_id"`
				Name    string `json:"name"`
				EnName  string `json:"en_name"`
				Avatar  struct {
					Avatar72  string `json:"avatar_72"`
					Avatar240 string `json:"avatar_240"`
					Avatar640 string `json:"avatar_640"`
				} `json:"avatar"`
				Email           string `json:"email"`
				EnterpriseEmail string `json:"enterprise_email"`
				Mobile          string `json:"mobile"`
				UserID          string `json:"user_id"`
				TenantKey       string `json:"tenant_key"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newProviderError("feishu", "解析用户信息响应失败", err)
	}
	if resp.Code != 0 {
		return nil, newProviderError("feishu", fmt.Sprintf("获取用户信息失败: %s", resp.Msg), nil)
	}

	u := resp.Data.User
	name := u.Name
	if name == "" {
		name = u.EnName
	}
	return &FeishuUserInfo{
		OpenID:          u.OpenID,
		UnionID:         u.UnionID,
		Name:            name,
		Avatar72:        u.Avatar.Avatar72,
		Avatar240:       u.Avatar.Avatar240,
		Avatar640:       u.Avatar.Avatar640,
		Email:           u.Email,
		EnterpriseEmail: u.EnterpriseEmail,
		Mobile:          u.Mobile,
		UserID:          u.UserID,
		TenantKey:       u.TenantKey,
	}, nil
}

// GetUserByCode 通过授权码获取完整的飞书用户资料
// 组合 ExchangeCode 与 FetchProfile，并把 token 元数据并入返回值
func (f *FeishuOAuth) GetUserByCode(code string) (*FeishuUserInfo, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	tokenData, err := f.ExchangeCode(code)
	if err != nil {
		return nil, err
	}

	profile, err := f.FetchProfile(tokenData.OpenID)
	if err != nil {
		return nil, err
	}

	profile.AccessToken = tokenData.AccessToken
	profile.RefreshToken = tokenData.RefreshToken
	profile.ExpiresIn = tokenData.ExpiresIn
	profile.TokenType = tokenData.TokenType
	profile.Scope = tokenData.Scope
	if tokenData.TenantKey != "" {
		profile.TenantKey = tokenData.TenantKey
	}
	if profile.UnionID == "" {
		profile.UnionID = tokenData.UnionID
	}
	return profile, nil
}

// postJSON 发送 JSON POST 请求，bearer 非空时携带 Authorization 头
func (f *FeishuOAuth) postJSON(reqURL, bearer string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, newProviderError("feishu", "序列化请求失败", err)
	}
	req, err := http.NewRequest(http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return nil, newProviderError("feishu", "创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return f.doRequest(req)
}

// doRequest 执行请求并读取响应体，传输失败归为 ProviderError
func (f *FeishuOAuth) doRequest(req *http.Request) ([]byte, error) {
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, newProviderError("feishu", "请求飞书服务器失败", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError("feishu", "读取响应失败", err)
	}
	return body, nil
}
