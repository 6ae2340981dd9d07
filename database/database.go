package database

import (
	"fmt"
	"log"

	"authcenter/config"
	"authcenter/models"
	"authcenter/service"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init 初始化数据库连接
func Init(cfg *config.Config) error {
	// 构建 MySQL DSN 连接字符串
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.Charset,
	)

	logMode := logger.Warn
	if cfg.Server.Mode == "debug" {
		logMode = logger.Info
	}

	var err error
	// TranslateError 把驱动层的唯一键冲突翻译为 gorm.ErrDuplicatedKey，
	// 并发首次 OAuth 登录的撞键补救依赖这一点
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	// 获取底层 *sql.DB 连接池配置
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(10)  // 最大空闲连接数
	sqlDB.SetMaxOpenConns(100) // 最大打开连接数

	// 自动迁移数据库表
	if err := DB.AutoMigrate(
		&models.User{},
		&models.PasswordReset{},
	); err != nil {
		return err
	}

	if err := seedAdminUser(cfg); err != nil {
		return err
	}

	log.Println("数据库初始化成功")
	return nil
}

// seedAdminUser 首次启动时按配置创建初始管理员账号（仅当用户名不存在时）
func seedAdminUser(cfg *config.Config) error {
	username := cfg.Server.AdminUsername
	password := cfg.Server.AdminPassword
	if username == "" || password == "" {
		return nil
	}

	var count int64
	if err := DB.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{
		Username:     &username,
		PasswordHash: hash,
		Name:         username,
		AuthType:     models.AuthTypeLocal,
		IsActive:     true,
		IsAdmin:      true,
	}
	if err := DB.Create(&admin).Error; err != nil {
		return fmt.Errorf("创建初始管理员失败: %w", err)
	}
	log.Printf("初始管理员已创建: username=%s", username)
	return nil
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}
