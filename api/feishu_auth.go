package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"

	"authcenter/config"
	"authcenter/middleware"
	"authcenter/service"

	"github.com/gin-gonic/gin"
)

const (
	oauthStateCookieTTL = 300 // 秒
	feishuStateCookie   = "feishu_oauth_state"
)

// FeishuAuthHandler 飞书扫码登录处理器
type FeishuAuthHandler struct {
	cfg   *config.Config
	oauth *service.FeishuOAuth
	auth  *service.AuthService
}

// NewFeishuAuthHandler 创建飞书认证处理器
func NewFeishuAuthHandler(cfg *config.Config, oauth *service.FeishuOAuth, auth *service.AuthService) *FeishuAuthHandler {
	return &FeishuAuthHandler{cfg: cfg, oauth: oauth, auth: auth}
}

func (h *FeishuAuthHandler) enabled() bool {
	return h.cfg.Feishu.Enabled && h.oauth.IsConfigured()
}

// generateOAuthState 随机 state，用于回调时校验请求来源
func generateOAuthState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GetConfig 获取飞书前端配置
// @Summary 获取飞书扫码登录配置
// @Description 返回前端初始化二维码所需参数，仅当飞书登录已启用时有效
// @Tags OAuth
// @Produce json
// @Success 200 {object} Response "配置信息"
// @Failure 400 {object} Response "飞书登录未启用"
// @Router /api/v1/oauth/feishu/config [get]
func (h *FeishuAuthHandler) GetConfig(c *gin.Context) {
	if !h.enabled() {
		BadRequest(c, "飞书扫码登录未启用")
		return
	}

	authURL, err := h.oauth.AuthorizationURL(c.Query("state"), h.cfg.Feishu.RedirectURI, "")
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "生成授权链接失败"))
		return
	}

	Success(c, gin.H{
		"app_id":       h.cfg.Feishu.AppID,
		"redirect_uri": h.cfg.Feishu.RedirectURI,
		"auth_url":     authURL,
	})
}

// Authorize 跳转到飞书授权页
// @Summary 发起飞书扫码登录
// @Description 生成 state 并重定向到飞书授权页面
// @Tags OAuth
// @Success 302 "重定向到飞书授权页"
// @Failure 400 {object} Response "飞书登录未启用"
// @Router /api/v1/oauth/feishu/authorize [get]
func (h *FeishuAuthHandler) Authorize(c *gin.Context) {
	if !h.enabled() {
		BadRequest(c, "飞书扫码登录未启用")
		return
	}

	state := generateOAuthState()
	authURL, err := h.oauth.AuthorizationURL(state, h.cfg.Feishu.RedirectURI, "")
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "生成授权链接失败"))
		return
	}

	c.SetCookie(feishuStateCookie, state, oauthStateCookieTTL, "/", "", false, true)
	c.Redirect(http.StatusFound, authURL)
}

// Callback 飞书 OAuth 回调
// @Summary 飞书授权回调
// @Description 校验 state，用授权码换取用户信息并完成登录，返回 JWT token
// @Tags OAuth
// @Produce json
// @Param code query string true "授权码"
// @Param state query string false "发起授权时生成的 state"
// @Success 200 {object} Response{data=LoginResponse} "登录成功"
// @Failure 400 {object} Response "缺少授权码或 state 校验失败"
// @Failure 403 {object} Response "账号已被禁用"
// @Failure 502 {object} Response "飞书接口调用失败"
// @Router /api/v1/oauth/feishu/callback [get]
func (h *FeishuAuthHandler) Callback(c *gin.Context) {
	if !h.enabled() {
		BadRequest(c, "飞书扫码登录未启用")
		return
	}

	code := c.Query("code")
	if code == "" {
		BadRequest(c, "未获取到授权码")
		return
	}
	if !verifyStateCookie(c, feishuStateCookie) {
		BadRequest(c, "state 校验失败，请重新发起登录")
		return
	}

	userInfo, err := h.oauth.GetUserByCode(code)
	if err != nil {
		var pe *service.ProviderError
		if errors.As(err, &pe) {
			Error(c, http.StatusBadGateway, SafeErrorMessage(err, "飞书授权失败"))
			return
		}
		BadRequest(c, SafeErrorMessage(err, "飞书授权失败"))
		return
	}

	user, err := h.auth.CreateOrUpdateFromFeishu(userInfo)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "登录失败"))
		return
	}
	if !user.IsActive {
		Forbidden(c, "账号已被禁用，请联系管理员")
		return
	}

	token, err := middleware.GenerateToken(user.ID, user.Name, h.cfg.JWT.ExpireTime)
	if err != nil {
		InternalError(c, "生成 token 失败")
		return
	}

	clean := user.Sanitized()
	Success(c, LoginResponse{
		Token:    token,
		UserInfo: clean,
	})
}

// verifyStateCookie 校验回调携带的 state 与发起授权时下发的 cookie 一致
// 未携带 state（直接走扫码组件等场景）时跳过校验
func verifyStateCookie(c *gin.Context, cookieName string) bool {
	state := c.Query("state")
	if state == "" {
		return true
	}
	saved, err := c.Cookie(cookieName)
	if err != nil {
		return false
	}
	// 用后即焚
	c.SetCookie(cookieName, "", -1, "/", "", false, true)
	return saved == state
}
