package api

import (
	"errors"
	"time"

	"authcenter/config"
	"authcenter/database"
	"authcenter/models"
	"authcenter/service"

	"github.com/gin-gonic/gin"
)

// PasswordResetHandler 密码重置处理器
type PasswordResetHandler struct {
	cfg          *config.Config
	auth         *service.AuthService
	emailService *service.EmailService
}

// NewPasswordResetHandler 创建密码重置处理器
func NewPasswordResetHandler(cfg *config.Config, auth *service.AuthService) *PasswordResetHandler {
	return &PasswordResetHandler{
		cfg:          cfg,
		auth:         auth,
		emailService: service.NewEmailService(&cfg.Email),
	}
}

// RequestResetRequest 请求重置密码
type RequestResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetPasswordRequest 重置密码请求
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=50"`
}

// RequestPasswordReset 请求密码重置（发送邮件）
// @Summary 请求密码重置
// @Description 通过邮箱请求密码重置，系统会发送包含重置链接的邮件。为了安全，即使用户不存在也返回成功。
// @Tags 密码重置
// @Accept json
// @Produce json
// @Param request body RequestResetRequest true "邮箱地址"
// @Success 200 {object} Response "请求成功（无论用户是否存在）"
// @Failure 400 {object} Response "参数错误"
// @Failure 500 {object} Response "邮件发送失败"
// @Router /api/v1/auth/password/request-reset [post]
func (h *PasswordResetHandler) RequestPasswordReset(c *gin.Context) {
	var req RequestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请输入有效的邮箱地址")
		return
	}

	// 为了安全，即使用户不存在也返回成功
	// 只匹配本地账号：OAuth 账号不持有密码，发重置邮件只会把用户引进死胡同
	var user models.User
	if err := database.DB.Where("email = ? AND auth_type = ?",
		req.Email, models.AuthTypeLocal).First(&user).Error; err != nil {
		SuccessWithMessage(c, "如果该邮箱已注册，您将收到密码重置邮件", nil)
		return
	}

	// 已有有效令牌时不重复发送
	var existingToken models.PasswordReset
	if err := database.DB.Where("user_id = ? AND used = ? AND expires_at > ?",
		user.ID, false, time.Now()).First(&existingToken).Error; err == nil {
		SuccessWithMessage(c, "已发送过重置邮件，请检查您的邮箱（包括垃圾邮件）", nil)
		return
	}

	token, err := models.GenerateToken()
	if err != nil {
		InternalError(c, "生成令牌失败")
		return
	}

	passwordReset := models.PasswordReset{
		UserID:    user.ID,
		Token:     token,
		Email:     req.Email,
		ExpiresAt: time.Now().Add(30 * time.Minute), // 30分钟有效期
	}
	if err := database.DB.Create(&passwordReset).Error; err != nil {
		InternalError(c, "创建重置令牌失败")
		return
	}

	resetLink := h.cfg.Server.BaseURL + "/#/reset-password?token=" + token
	if err := h.emailService.SendPasswordResetEmail(req.Email, user.Name, resetLink); err != nil {
		// 邮件发送失败，令牌作废
		database.DB.Delete(&passwordReset)
		InternalError(c, SafeErrorMessage(err, "邮件发送失败"))
		return
	}

	SuccessWithMessage(c, "密码重置邮件已发送，请检查您的邮箱", nil)
}

// VerifyResetToken 验证重置令牌
// @Summary 验证重置令牌
// @Description 验证密码重置令牌是否有效，返回关联的用户信息
// @Tags 密码重置
// @Produce json
// @Param token query string true "重置令牌"
// @Success 200 {object} Response "令牌有效，返回用户信息"
// @Failure 400 {object} Response "令牌无效、已使用或已过期"
// @Router /api/v1/auth/password/verify-token [get]
func (h *PasswordResetHandler) VerifyResetToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		BadRequest(c, "缺少令牌")
		return
	}

	var passwordReset models.PasswordReset
	if err := database.DB.Where("token = ?", token).First(&passwordReset).Error; err != nil {
		BadRequest(c, "无效的令牌")
		return
	}

	if !passwordReset.IsValid() {
		message := "令牌已失效"
		if passwordReset.Used {
			message = "该令牌已被使用"
		} else if passwordReset.IsExpired() {
			message = "令牌已过期，请重新申请"
		}
		BadRequest(c, message)
		return
	}

	var user models.User
	database.DB.First(&user, passwordReset.UserID)

	Success(c, gin.H{
		"email": passwordReset.Email,
		"name":  user.Name,
	})
}

// ResetPassword 重置密码
// @Summary 重置密码
// @Description 使用有效的重置令牌设置新密码
// @Tags 密码重置
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "重置密码信息"
// @Success 200 {object} Response "密码重置成功"
// @Failure 400 {object} Response "参数错误或令牌无效"
// @Router /api/v1/auth/password/reset [post]
func (h *PasswordResetHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误")
		return
	}

	var passwordReset models.PasswordReset
	if err := database.DB.Where("token = ?", req.Token).First(&passwordReset).Error; err != nil {
		BadRequest(c, "无效的令牌")
		return
	}
	if !passwordReset.IsValid() {
		BadRequest(c, "令牌已过期或已使用")
		return
	}

	if err := h.auth.UpdatePassword(passwordReset.UserID, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrNotLocalAccount) || errors.Is(err, service.ErrUserNotFound) {
			BadRequest(c, "该账号不支持密码重置")
			return
		}
		InternalError(c, SafeErrorMessage(err, "更新密码失败"))
		return
	}

	// 标记令牌已用，并使该用户所有未使用的令牌失效
	database.DB.Model(&passwordReset).Update("used", true)
	database.DB.Model(&models.PasswordReset{}).
		Where("user_id = ? AND used = ?", passwordReset.UserID, false).
		Update("used", true)

	SuccessWithMessage(c, "密码重置成功，请使用新密码登录", nil)
}

// GetEmailConfig 获取邮件配置状态
// @Summary 获取邮件配置状态
// @Description 获取邮件服务配置信息（邮箱地址会被部分隐藏）
// @Tags 后台管理
// @Produce json
// @Security BearerAuth
// @Success 200 {object} Response "获取成功"
// @Router /admin/email-config [get]
func (h *PasswordResetHandler) GetEmailConfig(c *gin.Context) {
	Success(c, gin.H{
		"enabled":  h.cfg.Email.Enabled,
		"host":     h.cfg.Email.Host,
		"port":     h.cfg.Email.Port,
		"username": maskEmail(h.cfg.Email.Username),
	})
}

// maskEmail 隐藏邮箱中间部分
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	if len(email) < 5 {
		return "****"
	}
	return email[:2] + "****" + email[len(email)-4:]
}
