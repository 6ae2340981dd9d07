package api

import (
	"errors"
	"net/http"

	"authcenter/config"
	"authcenter/middleware"
	"authcenter/service"

	"github.com/gin-gonic/gin"
)

const linuxDoStateCookie = "linuxdo_oauth_state"

// LinuxDoAuthHandler Linux.do 论坛登录处理器
type LinuxDoAuthHandler struct {
	cfg   *config.Config
	oauth *service.LinuxDoOAuth
	auth  *service.AuthService
}

// NewLinuxDoAuthHandler 创建 Linux.do 认证处理器
func NewLinuxDoAuthHandler(cfg *config.Config, oauth *service.LinuxDoOAuth, auth *service.AuthService) *LinuxDoAuthHandler {
	return &LinuxDoAuthHandler{cfg: cfg, oauth: oauth, auth: auth}
}

func (h *LinuxDoAuthHandler) enabled() bool {
	return h.cfg.LinuxDo.Enabled && h.oauth.IsConfigured()
}

// Authorize 跳转到 Linux.do 授权页
// @Summary 发起 Linux.do 登录
// @Description 生成 state 并重定向到 Linux.do 授权页面
// @Tags OAuth
// @Success 302 "重定向到 Linux.do 授权页"
// @Failure 400 {object} Response "Linux.do 登录未启用"
// @Router /api/v1/oauth/linuxdo/authorize [get]
func (h *LinuxDoAuthHandler) Authorize(c *gin.Context) {
	if !h.enabled() {
		BadRequest(c, "Linux.do 登录未启用")
		return
	}

	state := generateOAuthState()
	authURL, err := h.oauth.AuthorizationURL(state)
	if err != nil {
		InternalError(c, SafeErrorMessage(err, "生成授权链接失败"))
		return
	}

	c.SetCookie(linuxDoStateCookie, state, oauthStateCookieTTL, "/", "", false, true)
	c.Redirect(http.StatusFound, authURL)
}

// Callback Linux.do OAuth 回调
// @Summary Linux.do 授权回调
// @Description 校验 state，用授权码换取用户信息并完成登录，返回 JWT token
// @Tags OAuth
// @Produce json
// @Param code query string true "授权码"
// @Param state query string false "发起授权时生成的 state"
// @Success 200 {object} Response{data=LoginResponse} "登录成功"
// @Failure 400 {object} Response "缺少授权码或 state 校验失败"
// @Failure 403 {object} Response "账号已被禁用"
// @Failure 502 {object} Response "Linux.do 接口调用失败"
// @Router /api/v1/oauth/linuxdo/callback [get]
func (h *LinuxDoAuthHandler) Callback(c *gin.Context) {
	if !h.enabled() {
		BadRequest(c, "Linux.do 登录未启用")
		return
	}

	code := c.Query("code")
	if code == "" {
		BadRequest(c, "未获取到授权码")
		return
	}
	if !verifyStateCookie(c, linuxDoStateCookie) {
		BadRequest(c, "state 校验失败，请重新发起登录")
		return
	}

	userInfo, err := h.oauth.GetUserByCode(code)
	if err != nil {
		var pe *service.ProviderError
		if errors.As(err, &pe) {
			Error(c, http.StatusBadGateway, SafeErrorMessage(err, "Linux.do 授权失败"))
			return
		}
		BadRequest(c, SafeErrorMessage(err, "Linux.do 授权失败"))
		return
	}

	user, err := h.auth.CreateOrUpdateFromLinuxDo(userInfo)
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
