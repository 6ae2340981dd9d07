package service

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"authcenter/config"
)

// Linux.do Connect 标准 OAuth2 流程：授权码换 access_token 再拉取论坛用户资料
const (
	linuxDoAuthURL  = "https://connect.linux.do/oauth2/authorize"
	linuxDoTokenURL = "https://connect.linux.do/oauth2/token"
	linuxDoUserURL  = "https://connect.linux.do/api/user"
)

// LinuxDoOAuth Linux.do OAuth2 客户端
type LinuxDoOAuth struct {
	cfg        *config.LinuxDoConfig
	httpClient *http.Client

	// 端点可覆盖，测试时指向 httptest 服务
	authURL  string
	tokenURL string
	userURL  string
}

// NewLinuxDoOAuth 创建 Linux.do OAuth 客户端
func NewLinuxDoOAuth(cfg *config.LinuxDoConfig) *LinuxDoOAuth {
	if !cfg.IsConfigured() {
		log.Println("警告: Linux.do OAuth 未完整配置，论坛登录将不可用")
	}
	return &LinuxDoOAuth{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: providerHTTPTimeout},
		authURL:    linuxDoAuthURL,
		tokenURL:   linuxDoTokenURL,
		userURL:    linuxDoUserURL,
	}
}

// IsConfigured 检查 Linux.do OAuth 是否配置完整
func (l *LinuxDoOAuth) IsConfigured() bool {
	return l.cfg.IsConfigured()
}

// AuthorizationURL 构建授权页面 URL
func (l *LinuxDoOAuth) AuthorizationURL(state string) (string, error) {
	if !l.IsConfigured() {
		return "", ErrLinuxDoNotConfigured
	}

	params := url.Values{}
	params.Set("client_id", l.cfg.ClientID)
	params.Set("redirect_uri", l.cfg.RedirectURI)
	params.Set("response_type", "code")
	if state != "" {
		params.Set("state", state)
	}
	return l.authURL + "?" + params.Encode(), nil
}

// LinuxDoTokenData 授权码兑换结果
type LinuxDoTokenData struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// LinuxDoUserInfo Linux.do 论坛用户资料
// AvatarTemplate 含 {size} 占位符，由入库逻辑替换为具体尺寸
// Active 为指针：响应缺失该字段时视为 true
type LinuxDoUserInfo struct {
	ID             int    `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	AvatarTemplate string `json:"avatar_template"`
	Active         *bool  `json:"active"`
	TrustLevel     int    `json:"trust_level"`
	Silenced       bool   `json:"silenced"`
	Email          string `json:"email"`
}

// IsActive 账号活跃状态，资料未携带 active 字段时默认 true
func (u *LinuxDoUserInfo) IsActive() bool {
	return u.Active == nil || *u.Active
}

// ExchangeToken 用授权码换取 access_token
// token 端点要求 application/x-www-form-urlencoded
func (l *LinuxDoOAuth) ExchangeToken(code string) (*LinuxDoTokenData, error) {
	if !l.IsConfigured() {
		return nil, ErrLinuxDoNotConfigured
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", l.cfg.ClientID)
	form.Set("client_secret", l.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", l.cfg.RedirectURI)

	req, err := http.NewRequest(http.MethodPost, l.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newProviderError("linux_do", "创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := l.doRequest(req)
	if err != nil {
		return nil, err
	}

	var tokenData LinuxDoTokenData
	if err := json.Unmarshal(body, &tokenData); err != nil {
		return nil, newProviderError("linux_do", "解析 token 响应失败", err)
	}
	if tokenData.AccessToken == "" {
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.ErrorDescription
		if msg == "" {
			msg = errResp.Error
		}
		if msg == "" {
			msg = "token 响应缺少 access_token"
		}
		return nil, newProviderError("linux_do", msg, nil)
	}
	return &tokenData, nil
}

// GetUserInfo 使用 access_token 获取论坛用户资料
func (l *LinuxDoOAuth) GetUserInfo(accessToken string) (*LinuxDoUserInfo, error) {
	req, err := http.NewRequest(http.MethodGet, l.userURL, nil)
	if err != nil {
		return nil, newProviderError("linux_do", "创建请求失败", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := l.doRequest(req)
	if err != nil {
		return nil, err
	}

	var userInfo LinuxDoUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, newProviderError("linux_do", "解析用户信息失败", err)
	}
	if userInfo.ID == 0 {
		return nil, newProviderError("linux_do", "用户信息缺少 id", nil)
	}
	return &userInfo, nil
}

// GetUserByCode 通过授权码获取完整的 Linux.do 用户资料
func (l *LinuxDoOAuth) GetUserByCode(code string) (*LinuxDoUserInfo, error) {
	if code == "" {
		return nil, ErrMissingCode
	}

	tokenData, err := l.ExchangeToken(code)
	if err != nil {
		return nil, err
	}
	return l.GetUserInfo(tokenData.AccessToken)
}

// doRequest 执行请求并读取响应体，传输失败归为 ProviderError
// 4xx 也返回响应体：token 端点的错误详情随 HTTP 400 下发，由调用方解析
func (l *LinuxDoOAuth) doRequest(req *http.Request) ([]byte, error) {
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, newProviderError("linux_do", "请求 Linux.do 服务器失败", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newProviderError("linux_do", "读取响应失败", err)
	}
	return body, nil
}
