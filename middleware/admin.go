package middleware

import (
	"net/http"

	"authcenter/database"
	"authcenter/models"

	"github.com/gin-gonic/gin"
)

// AdminOnly 管理员校验中间件，需在 JWTAuth 之后使用
// 校验当前用户存在、未禁用且 is_admin=true
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetCurrentUserID(c)
		if userID == 0 {
			abortUnauthorized(c, "请先登录")
			return
		}

		var user models.User
		if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
			abortUnauthorized(c, "用户不存在")
			return
		}
		if !user.IsActive {
			abortUnauthorized(c, "账号已被禁用")
			return
		}
		if !user.IsAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    403,
				"message": "权限不足",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
