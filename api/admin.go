package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"authcenter/database"
	"authcenter/middleware"
	"authcenter/models"
	"authcenter/service"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// AdminHandler 后台用户管理处理器，路由层已挂 JWTAuth + AdminOnly
type AdminHandler struct {
	auth *service.AuthService
}

// NewAdminHandler 创建后台管理处理器
func NewAdminHandler(auth *service.AuthService) *AdminHandler {
	return &AdminHandler{auth: auth}
}

// parseUserID 解析路径中的用户 ID
func parseUserID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		BadRequest(c, "无效的用户ID")
		return 0, false
	}
	return uint(id), true
}

// ListUsers 获取用户列表
// @Summary 获取用户列表
// @Description 分页获取用户列表，支持按认证方式过滤和关键词搜索
// @Tags 后台管理
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码，默认1"
// @Param page_size query int false "每页条数，默认20，最大100"
// @Param auth_type query string false "认证方式 local/linux_do/feishu"
// @Param keyword query string false "按名称或用户名模糊搜索"
// @Success 200 {object} Response{data=PageResponse} "获取成功"
// @Failure 401 {object} Response "未登录"
// @Failure 403 {object} Response "权限不足"
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := database.DB.Model(&models.User{})
	if authType := c.Query("auth_type"); authType != "" {
		query = query.Where("auth_type = ?", authType)
	}
	if keyword := c.Query("keyword"); keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("name LIKE ? OR username LIKE ? OR linux_do_username LIKE ?", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询用户失败"))
		return
	}

	var users []models.User
	if err := query.Order("id").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询用户失败"))
		return
	}
	for i := range users {
		users[i].PasswordHash = ""
	}

	Success(c, PageResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		List:     users,
	})
}

// GetUser 获取用户详情
// @Summary 获取用户详情
// @Tags 后台管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户ID"
// @Success 200 {object} Response{data=models.User} "获取成功"
// @Failure 404 {object} Response "用户不存在"
// @Router /admin/users/{id} [get]
func (h *AdminHandler) GetUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := h.auth.GetUserByID(id)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			NotFound(c, "用户不存在")
			return
		}
		InternalError(c, SafeErrorMessage(err, "查询用户失败"))
		return
	}
	Success(c, user)
}

// ActivateUser 启用用户
// @Summary 启用用户
// @Description 将用户置为可登录状态，重复启用不报错
// @Tags 后台管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户ID"
// @Success 200 {object} Response "启用成功"
// @Failure 404 {object} Response "用户不存在"
// @Router /admin/users/{id}/activate [put]
func (h *AdminHandler) ActivateUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	if err := h.auth.ActivateUser(id); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			NotFound(c, "用户不存在")
			return
		}
		InternalError(c, SafeErrorMessage(err, "更新用户状态失败"))
		return
	}
	SuccessWithMessage(c, "用户已启用", nil)
}

// DeactivateUser 禁用用户
// @Summary 禁用用户
// @Description 禁用后该用户无法通过任何方式登录，不能禁用自己
// @Tags 后台管理
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户ID"
// @Success 200 {object} Response "禁用成功"
// @Failure 400 {object} Response "不能禁用自己"
// @Failure 404 {object} Response "用户不存在"
// @Router /admin/users/{id}/deactivate [put]
func (h *AdminHandler) DeactivateUser(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	// 避免管理员把自己锁在门外
	if id == middleware.GetCurrentUserID(c) {
		BadRequest(c, "不能禁用自己的账号")
		return
	}

	if err := h.auth.DeactivateUser(id); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			NotFound(c, "用户不存在")
			return
		}
		InternalError(c, SafeErrorMessage(err, "更新用户状态失败"))
		return
	}
	SuccessWithMessage(c, "用户已禁用", nil)
}

// SetAdminRequest 设置管理员权限请求
type SetAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// SetAdmin 设置管理员权限
// @Summary 设置管理员权限
// @Description 设置或取消用户的管理员权限，不能取消自己的管理员权限
// @Tags 后台管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户ID"
// @Param request body SetAdminRequest true "管理员权限设置"
// @Success 200 {object} Response "更新成功"
// @Failure 400 {object} Response "不能取消自己的管理员权限"
// @Failure 404 {object} Response "用户不存在"
// @Router /admin/users/{id}/admin [put]
func (h *AdminHandler) SetAdmin(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	var req SetAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	if id == middleware.GetCurrentUserID(c) && !req.IsAdmin {
		BadRequest(c, "不能取消自己的管理员权限")
		return
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", id).Error; err != nil {
		NotFound(c, "用户不存在")
		return
	}
	if err := database.DB.Model(&user).Update("is_admin", req.IsAdmin).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "更新失败"))
		return
	}

	SuccessWithMessage(c, "权限更新成功", nil)
}

// ResetUserPasswordRequest 管理员重置用户密码请求
type ResetUserPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=6,max=50"`
}

// ResetUserPassword 管理员重置用户密码
// @Summary 重置用户密码
// @Description 管理员直接重置指定本地用户的密码，无需原密码
// @Tags 后台管理
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "用户ID"
// @Param request body ResetUserPasswordRequest true "新密码"
// @Success 200 {object} Response "重置成功"
// @Failure 400 {object} Response "仅本地账号支持重置密码"
// @Failure 404 {object} Response "用户不存在"
// @Router /admin/users/{id}/password [put]
func (h *AdminHandler) ResetUserPassword(c *gin.Context) {
	id, ok := parseUserID(c)
	if !ok {
		return
	}

	var req ResetUserPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, SafeErrorMessage(err, "参数错误"))
		return
	}

	if _, err := h.auth.GetUserByID(id); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			NotFound(c, "用户不存在")
			return
		}
		InternalError(c, SafeErrorMessage(err, "查询用户失败"))
		return
	}

	if err := h.auth.UpdatePassword(id, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrNotLocalAccount) {
			BadRequest(c, "仅本地账号支持重置密码")
			return
		}
		InternalError(c, SafeErrorMessage(err, "更新密码失败"))
		return
	}
	SuccessWithMessage(c, "密码重置成功", nil)
}

// ExportUsersExcel 导出用户列表
// @Summary 导出用户列表为Excel
// @Description 导出全部用户为 Excel 文件
// @Tags 后台管理
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Success 200 {file} file "Excel文件"
// @Failure 500 {object} Response "导出失败"
// @Router /admin/users/export [get]
func (h *AdminHandler) ExportUsersExcel(c *gin.Context) {
	var users []models.User
	if err := database.DB.Order("id").Find(&users).Error; err != nil {
		InternalError(c, SafeErrorMessage(err, "查询用户失败"))
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "用户列表"
	f.SetSheetName("Sheet1", sheetName)

	// 表头样式
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})

	dataStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})

	f.SetColWidth(sheetName, "A", "A", 8)
	f.SetColWidth(sheetName, "B", "C", 18)
	f.SetColWidth(sheetName, "D", "D", 25)
	f.SetColWidth(sheetName, "E", "F", 12)
	f.SetColWidth(sheetName, "G", "H", 20)

	headers := []string{"ID", "名称", "用户名", "邮箱", "认证方式", "状态", "最后登录", "创建时间"}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, user := range users {
		row := i + 2
		username := ""
		if user.Username != nil {
			username = *user.Username
		}
		status := "正常"
		if !user.IsActive {
			status = "禁用"
		}
		lastLogin := ""
		if user.LastLoginTime != nil {
			lastLogin = user.LastLoginTime.Format("2006-01-02 15:04:05")
		}

		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), user.ID)
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), user.Name)
		f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), username)
		f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), user.Email)
		f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), user.AuthType)
		f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), status)
		f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), lastLogin)
		f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), user.CreatedAt.Format("2006-01-02 15:04:05"))
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), dataStyle)
	}

	// RFC 5987：filename* 的值需要百分号编码，中文文件名不能裸写
	filename := fmt.Sprintf("用户列表_%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))

	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: "生成 Excel 失败"})
		return
	}
}
