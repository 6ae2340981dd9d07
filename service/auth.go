package service

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"authcenter/models"

	"gorm.io/gorm"
)

// linuxDoAvatarSize 论坛头像模板 {size} 占位符替换的固定尺寸
const linuxDoAvatarSize = "240"

// AuthService 认证服务：外部身份落库（创建或更新）与本地账号的创建、校验
// 同一外部标识只会对应一行用户记录；标识字段建表唯一，创建撞键时改走更新，
// 保证并发首次登录下也不会产生重复行
type AuthService struct {
	db *gorm.DB
}

// NewAuthService 创建认证服务
func NewAuthService(db *gorm.DB) *AuthService {
	return &AuthService{db: db}
}

// firstNonEmpty 兜底链：从左到右返回第一个非空字符串
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CreateOrUpdateFromLinuxDo 从 Linux.do 用户资料创建或更新用户
// 以字符串化的论坛 id 为唯一键；重复登录只刷新资料字段与登录时间，
// 不触碰外部标识本身
func (s *AuthService) CreateOrUpdateFromLinuxDo(info *LinuxDoUserInfo) (*models.User, error) {
	if info == nil || info.ID == 0 {
		return nil, ErrMissingLinuxDoID
	}
	linuxDoID := strconv.Itoa(info.ID)

	// 头像模板支持多种尺寸，固定取 240
	avatar := info.AvatarTemplate
	if strings.Contains(avatar, "{size}") {
		avatar = strings.ReplaceAll(avatar, "{size}", linuxDoAvatarSize)
	}

	// name 不允许为空：name -> username -> 占位名
	name := firstNonEmpty(info.Name, info.Username, models.DefaultLinuxDoName)
	now := time.Now()

	updates := map[string]interface{}{
		"name":              name,
		"linux_do_username": info.Username,
		"avatar":            avatar,
		"auth_type":         models.AuthTypeLinuxDo,
		"last_login_time":   now,
	}

	var user models.User
	err := s.db.Where("linux_do_id = ?", linuxDoID).First(&user).Error
	switch {
	case err == nil:
		if err := s.db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新Linux.do用户失败: %w", err)
		}
		return &user, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		newUser := models.User{
			LinuxDoID:       &linuxDoID,
			LinuxDoUsername: info.Username,
			Name:            name,
			Avatar:          avatar,
			AuthType:        models.AuthTypeLinuxDo,
			IsActive:        info.IsActive(),
			LastLoginTime:   &now,
		}
		createErr := s.db.Create(&newUser).Error
		if createErr == nil {
			return &newUser, nil
		}
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			// 并发首次登录撞唯一键：另一请求已插入，本次改走更新
			return s.retryAsUpdate("linux_do_id = ?", linuxDoID, updates)
		}
		return nil, fmt.Errorf("创建Linux.do用户失败: %w", createErr)

	default:
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
}

// CreateOrUpdateFromFeishu 从飞书用户资料创建或更新用户
// 以 open_id 为唯一键；头像取可用的最大尺寸，邮箱优先个人邮箱
func (s *AuthService) CreateOrUpdateFromFeishu(info *FeishuUserInfo) (*models.User, error) {
	if info == nil || info.OpenID == "" {
		return nil, ErrMissingOpenID
	}

	avatar := firstNonEmpty(info.Avatar640, info.Avatar240, info.Avatar72)
	name := firstNonEmpty(info.Name, models.DefaultFeishuName)
	email := firstNonEmpty(info.Email, info.EnterpriseEmail)
	now := time.Now()

	updates := map[string]interface{}{
		"name":            name,
		"avatar":          avatar,
		"email":           email,
		"feishu_union_id": info.UnionID,
		"auth_type":       models.AuthTypeFeishu,
		"last_login_time": now,
	}

	var user models.User
	err := s.db.Where("feishu_open_id = ?", info.OpenID).First(&user).Error
	switch {
	case err == nil:
		if err := s.db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("更新飞书用户失败: %w", err)
		}
		return &user, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		openID := info.OpenID
		newUser := models.User{
			FeishuOpenID:  &openID,
			FeishuUnionID: info.UnionID,
			Name:          name,
			Avatar:        avatar,
			Email:         email,
			AuthType:      models.AuthTypeFeishu,
			IsActive:      true,
			LastLoginTime: &now,
		}
		createErr := s.db.Create(&newUser).Error
		if createErr == nil {
			return &newUser, nil
		}
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			return s.retryAsUpdate("feishu_open_id = ?", info.OpenID, updates)
		}
		return nil, fmt.Errorf("创建飞书用户失败: %w", createErr)

	default:
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
}

// retryAsUpdate 插入撞唯一键后的补救路径：按外部标识重查并应用本次资料更新
func (s *AuthService) retryAsUpdate(cond string, key string, updates map[string]interface{}) (*models.User, error) {
	var user models.User
	if err := s.db.Where(cond, key).First(&user).Error; err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if err := s.db.Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("更新用户失败: %w", err)
	}
	return &user, nil
}

// CreateLocalUser 创建本地用户（用户名密码认证）
// name 为空时默认使用用户名
func (s *AuthService) CreateLocalUser(username, password, name string) (*models.User, error) {
	var existing models.User
	err := s.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = username
	}
	now := time.Now()
	user := models.User{
		Username:      &username,
		PasswordHash:  passwordHash,
		Name:          name,
		AuthType:      models.AuthTypeLocal,
		IsActive:      true,
		LastLoginTime: &now,
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("创建本地用户失败: %w", err)
	}

	log.Printf("本地用户创建成功: username=%s, id=%d", username, user.ID)
	clean := user.Sanitized()
	return &clean, nil
}

// VerifyLocalUser 校验本地用户密码
// 用户不存在、账号禁用、密码错误均返回 (nil, nil)，不视作错误；
// 仅存储层故障返回 error
func (s *AuthService) VerifyLocalUser(username, password string) (*models.User, error) {
	var user models.User
	err := s.db.Where("username = ? AND auth_type = ?", username, models.AuthTypeLocal).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("用户不存在: username=%s", username)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if !user.IsActive {
		log.Printf("用户已被禁用: username=%s", username)
		return nil, nil
	}

	if !CheckPassword(password, user.PasswordHash) {
		log.Printf("密码错误: username=%s", username)
		return nil, nil
	}

	// 凭据校验已通过，登录时间写入失败不影响登录结果
	now := time.Now()
	if err := s.UpdateLastLoginTime(user.ID); err != nil {
		log.Printf("更新登录时间失败: %v", err)
	} else {
		user.LastLoginTime = &now
	}

	log.Printf("本地用户登录成功: username=%s, id=%d", username, user.ID)
	return &user, nil
}

// GetUserByID 根据 ID 获取用户，返回值不含密码哈希
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	clean := user.Sanitized()
	return &clean, nil
}

// GetUserByLinuxDoID 根据 Linux.do id 获取用户，不存在返回 (nil, nil)
func (s *AuthService) GetUserByLinuxDoID(linuxDoID string) (*models.User, error) {
	return s.findOne("linux_do_id = ?", linuxDoID)
}

// GetUserByFeishuOpenID 根据飞书 open_id 获取用户，不存在返回 (nil, nil)
func (s *AuthService) GetUserByFeishuOpenID(openID string) (*models.User, error) {
	return s.findOne("feishu_open_id = ?", openID)
}

// GetUserByUsername 根据用户名获取用户，不存在返回 (nil, nil)
func (s *AuthService) GetUserByUsername(username string) (*models.User, error) {
	return s.findOne("username = ?", username)
}

func (s *AuthService) findOne(cond string, arg interface{}) (*models.User, error) {
	var user models.User
	err := s.db.Where(cond, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

// UpdateLastLoginTime 更新用户最后登录时间（参数化语句）
func (s *AuthService) UpdateLastLoginTime(id uint) error {
	return s.db.Model(&models.User{}).Where("id = ?", id).
		Update("last_login_time", time.Now()).Error
}

// ChangePassword 修改本地用户密码，需校验原密码
func (s *AuthService) ChangePassword(id uint, oldPassword, newPassword string) error {
	var user models.User
	err := s.db.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if !CheckPassword(oldPassword, user.PasswordHash) {
		return ErrWrongPassword
	}
	if user.AuthType != models.AuthTypeLocal {
		return ErrNotLocalAccount
	}
	return s.setPassword(&user, newPassword)
}

// UpdatePassword 重置用户密码，不校验原密码（重置令牌或管理员操作后调用）
// 密码哈希只属于本地账号，OAuth 账号拒绝写入
func (s *AuthService) UpdatePassword(id uint, newPassword string) error {
	var user models.User
	err := s.db.Select("id", "auth_type").Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if user.AuthType != models.AuthTypeLocal {
		return ErrNotLocalAccount
	}
	return s.setPassword(&user, newPassword)
}

// setPassword 写入新密码哈希，调用方已确认账号为本地账号
func (s *AuthService) setPassword(user *models.User, newPassword string) error {
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.Model(user).Update("password_hash", hash).Error; err != nil {
		return fmt.Errorf("更新密码失败: %w", err)
	}
	return nil
}

// ActivateUser 启用用户；id 不存在返回 ErrUserNotFound
func (s *AuthService) ActivateUser(id uint) error {
	return s.setActive(id, true)
}

// DeactivateUser 禁用用户；id 不存在返回 ErrUserNotFound
func (s *AuthService) DeactivateUser(id uint) error {
	return s.setActive(id, false)
}

// setActive 幂等翻转 is_active
// 先查存在性再更新：值未变化时 MySQL 影响行数为 0，不能据此判定不存在
func (s *AuthService) setActive(id uint, active bool) error {
	var user models.User
	err := s.db.Select("id").Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("查询用户失败: %w", err)
	}
	if err := s.db.Model(&user).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("更新用户状态失败: %w", err)
	}
	return nil
}
