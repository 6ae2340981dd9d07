package router

import (
	"time"

	"authcenter/api"
	"authcenter/config"
	"authcenter/database"
	_ "authcenter/docs"
	"authcenter/middleware"
	"authcenter/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config) *gin.Engine {
	// 设置运行模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.Default()

	// CORS 中间件
	r.Use(CORSMiddleware())

	authService := service.NewAuthService(database.DB)
	authHandler := api.NewAuthHandler(cfg, authService)
	feishuHandler := api.NewFeishuAuthHandler(cfg, service.NewFeishuOAuth(&cfg.Feishu), authService)
	linuxDoHandler := api.NewLinuxDoAuthHandler(cfg, service.NewLinuxDoOAuth(&cfg.LinuxDo), authService)
	passwordResetHandler := api.NewPasswordResetHandler(cfg, authService)
	adminHandler := api.NewAdminHandler(authService)

	v1 := r.Group("/api/v1")
	{
		// 本地账号（无需登录），登录注册接口限流
		loginLimit := middleware.LoginRateLimit(10, time.Minute)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", loginLimit, authHandler.Register)
			auth.POST("/login", loginLimit, authHandler.Login)

			// 密码重置（无需登录）
			auth.POST("/password/request-reset", passwordResetHandler.RequestPasswordReset)
			auth.GET("/password/verify-token", passwordResetHandler.VerifyResetToken)
			auth.POST("/password/reset", passwordResetHandler.ResetPassword)
		}

		// OAuth 登录（无需登录）
		oauth := v1.Group("/oauth")
		{
			oauth.GET("/feishu/config", feishuHandler.GetConfig)
			oauth.GET("/feishu/authorize", feishuHandler.Authorize)
			oauth.GET("/feishu/callback", loginLimit, feishuHandler.Callback)

			oauth.GET("/linuxdo/authorize", linuxDoHandler.Authorize)
			oauth.GET("/linuxdo/callback", loginLimit, linuxDoHandler.Callback)
		}

		// 需要 JWT 认证的路由
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth())
		{
			authorized.GET("/auth/profile", authHandler.GetProfile)
			authorized.PUT("/auth/password", authHandler.ChangePassword)
		}
	}

	// 后台管理接口（JWT + 管理员）
	admin := r.Group("/admin")
	admin.Use(middleware.JWTAuth(), middleware.AdminOnly())
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.GET("/users/export", adminHandler.ExportUsersExcel)
		admin.GET("/users/:id", adminHandler.GetUser)
		admin.PUT("/users/:id/activate", adminHandler.ActivateUser)
		admin.PUT("/users/:id/deactivate", adminHandler.DeactivateUser)
		admin.PUT("/users/:id/admin", adminHandler.SetAdmin)
		admin.PUT("/users/:id/password", adminHandler.ResetUserPassword)
		admin.GET("/email-config", passwordResetHandler.GetEmailConfig)
	}

	// Swagger 文档
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return r
}

// CORSMiddleware CORS 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
