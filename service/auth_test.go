package service

import (
	"testing"

	"authcenter/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newMockService 基于 sqlmock 的 AuthService，用于在不连库的情况下测试读写序列
func newMockService(t *testing.T) (*AuthService, sqlmock.Sqlmock, func()) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewAuthService(gormDB), mock, func() { sqlDB.Close() }
}

func boolPtr(b bool) *bool { return &b }

func TestCreateOrUpdateFromLinuxDo_Insert(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	// 按 linux_do_id 查询无记录
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	user, err := svc.CreateOrUpdateFromLinuxDo(&LinuxDoUserInfo{
		ID:             42,
		Username:       "bob",
		AvatarTemplate: "https://x/{size}/a.png",
		Active:         boolPtr(true),
	})
	require.NoError(t, err)

	assert.Equal(t, uint(7), user.ID)
	require.NotNil(t, user.LinuxDoID)
	assert.Equal(t, "42", *user.LinuxDoID)
	assert.Equal(t, "bob", user.LinuxDoUsername)
	assert.Equal(t, "bob", user.Name) // name 为空时回退到 username
	assert.Equal(t, "https://x/240/a.png", user.Avatar)
	assert.Equal(t, models.AuthTypeLinuxDo, user.AuthType)
	assert.True(t, user.IsActive)
	assert.NotNil(t, user.LastLoginTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromLinuxDo_Update(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "linux_do_id", "linux_do_username", "name", "auth_type", "is_active"}).
			AddRow(7, "42", "bob", "bob", "linux_do", true))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := svc.CreateOrUpdateFromLinuxDo(&LinuxDoUserInfo{
		ID:       42,
		Username: "bob2",
		Name:     "Bobby",
	})
	require.NoError(t, err)

	// 行 id 不变，资料字段刷新
	assert.Equal(t, uint(7), user.ID)
	assert.Equal(t, "Bobby", user.Name)
	assert.Equal(t, "bob2", user.LinuxDoUsername)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromLinuxDo_MissingID(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	_, err := svc.CreateOrUpdateFromLinuxDo(&LinuxDoUserInfo{Username: "noid"})
	assert.ErrorIs(t, err, ErrMissingLinuxDoID)

	_, err = svc.CreateOrUpdateFromLinuxDo(nil)
	assert.ErrorIs(t, err, ErrMissingLinuxDoID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromLinuxDo_NamePlaceholder(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("9").
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	// 名称与用户名均为空时使用占位名，name 永不为空
	user, err := svc.CreateOrUpdateFromLinuxDo(&LinuxDoUserInfo{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultLinuxDoName, user.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromLinuxDo_DuplicateRetryAsUpdate(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	// 首查无记录
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{}))

	// 并发首登：插入撞唯一键
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()

	// 改走更新：重查 + 更新
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "linux_do_id", "name"}).
			AddRow(7, "42", "bob"))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := svc.CreateOrUpdateFromLinuxDo(&LinuxDoUserInfo{ID: 42, Username: "bob"})
	require.NoError(t, err)
	assert.Equal(t, uint(7), user.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromFeishu_Insert(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("ou_1").
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	user, err := svc.CreateOrUpdateFromFeishu(&FeishuUserInfo{
		OpenID:          "ou_1",
		UnionID:         "on_1",
		Name:            "",
		Avatar240:       "https://a/240.png",
		Avatar72:        "https://a/72.png",
		EnterpriseEmail: "work@corp.com",
	})
	require.NoError(t, err)

	assert.Equal(t, uint(3), user.ID)
	require.NotNil(t, user.FeishuOpenID)
	assert.Equal(t, "ou_1", *user.FeishuOpenID)
	assert.Equal(t, models.DefaultFeishuName, user.Name)   // 名称为空取占位名
	assert.Equal(t, "https://a/240.png", user.Avatar)      // 取可用的最大尺寸
	assert.Equal(t, "work@corp.com", user.Email)           // 个人邮箱缺失回退企业邮箱
	assert.Equal(t, models.AuthTypeFeishu, user.AuthType)
	assert.True(t, user.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromFeishu_Update(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("ou_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "feishu_open_id", "name", "auth_type"}).
			AddRow(3, "ou_1", "旧名字", "local"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := svc.CreateOrUpdateFromFeishu(&FeishuUserInfo{
		OpenID:    "ou_1",
		Name:      "新名字",
		Avatar640: "https://a/640.png",
		Email:     "me@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, uint(3), user.ID)
	assert.Equal(t, "新名字", user.Name)
	// 每次 OAuth 登录都把 auth_type 刷成本次方式
	assert.Equal(t, models.AuthTypeFeishu, user.AuthType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrUpdateFromFeishu_MissingOpenID(t *testing.T) {
	svc, _, cleanup := newMockService(t)
	defer cleanup()

	_, err := svc.CreateOrUpdateFromFeishu(&FeishuUserInfo{Name: "无标识"})
	assert.ErrorIs(t, err, ErrMissingOpenID)
}

func TestCreateLocalUser(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `users`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user, err := svc.CreateLocalUser("alice", "password123", "")
	require.NoError(t, err)

	require.NotNil(t, user.Username)
	assert.Equal(t, "alice", *user.Username)
	assert.Equal(t, "alice", user.Name) // 未指定显示名时用用户名
	assert.Equal(t, models.AuthTypeLocal, user.AuthType)
	assert.True(t, user.IsActive)
	assert.Empty(t, user.PasswordHash) // 返回值不含凭据
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLocalUser_Duplicate(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	// 用户名已存在：不执行任何写入
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(1, "admin"))

	_, err := svc.CreateLocalUser("admin", "password123", "")
	assert.ErrorIs(t, err, ErrUsernameExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLocalUser(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	hash, err := HashPassword("password123")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("alice", models.AuthTypeLocal).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name", "auth_type", "is_active"}).
			AddRow(1, "alice", hash, "Alice", "local", true))

	// 登录成功后刷新登录时间
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, err := svc.VerifyLocalUser("alice", "password123")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, uint(1), user.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLocalUser_WrongPassword(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	hash, err := HashPassword("password123")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("alice", models.AuthTypeLocal).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_active"}).
			AddRow(1, "alice", hash, true))

	// 密码错误是预期的否定结果，不是错误
	user, err := svc.VerifyLocalUser("alice", "wrongpass")
	require.NoError(t, err)
	assert.Nil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLocalUser_Inactive(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	hash, err := HashPassword("password123")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("locked", models.AuthTypeLocal).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_active"}).
			AddRow(2, "locked", hash, false))

	// 禁用账号即使密码正确也返回「不存在」，且不触发密码校验后的写入
	user, err := svc.VerifyLocalUser("locked", "password123")
	require.NoError(t, err)
	assert.Nil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLocalUser_NotFound(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("ghost", models.AuthTypeLocal).
		WillReturnRows(sqlmock.NewRows([]string{}))

	user, err := svc.VerifyLocalUser("ghost", "whatever")
	require.NoError(t, err)
	assert.Nil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyLocalUser_LoginTimeFailureSwallowed(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	hash, err := HashPassword("password123")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("alice", models.AuthTypeLocal).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "is_active"}).
			AddRow(1, "alice", hash, true))

	// 凭据已通过，登录时间写失败不影响登录
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnError(gorm.ErrInvalidTransaction)
	mock.ExpectRollback()

	user, err := svc.VerifyLocalUser("alice", "password123")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByID(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "name"}).
			AddRow(1, "alice", "$2a$12$secret", "Alice"))

	user, err := svc.GetUserByID(1)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Empty(t, user.PasswordHash) // 凭据不外泄
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByID_NotFound(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(99)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	_, err := svc.GetUserByID(99)
	assert.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateAndDeactivateUser(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	// 禁用
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, svc.DeactivateUser(5))

	// 启用
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, svc.ActivateUser(5))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateUser_NotFound(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(404)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	assert.ErrorIs(t, svc.ActivateUser(404), ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupByExternalID(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("12345").
		WillReturnRows(sqlmock.NewRows([]string{"id", "linux_do_id", "name"}).
			AddRow(3, "12345", "坛友"))
	user, err := svc.GetUserByLinuxDoID("12345")
	require.NoError(t, err)
	assert.Equal(t, uint(3), user.ID)

	// 不存在时返回 (nil, nil)，由调用方决定后续动作
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("ou_missing").
		WillReturnRows(sqlmock.NewRows([]string{}))
	user, err = svc.GetUserByFeishuOpenID("ou_missing")
	require.NoError(t, err)
	assert.Nil(t, user)

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(1, "alice"))
	user, err = svc.GetUserByUsername("alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", *user.Username)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "auth_type"}).
			AddRow(1, models.AuthTypeLocal))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `users` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.UpdatePassword(1, "newpassword123"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword_OAuthAccount(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	// 密码哈希只属于本地账号：飞书账号拒绝写入，且不产生任何 UPDATE
	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "auth_type"}).
			AddRow(3, models.AuthTypeFeishu))

	assert.ErrorIs(t, svc.UpdatePassword(3, "newpassword123"), ErrNotLocalAccount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword_NotFound(t *testing.T) {
	svc, mock, cleanup := newMockService(t)
	defer cleanup()

	mock.ExpectQuery("SELECT .* FROM `users`").
		WithArgs(uint(404)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	assert.ErrorIs(t, svc.UpdatePassword(404, "newpassword123"), ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
