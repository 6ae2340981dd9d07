package service

import (
	"errors"
	"fmt"
)

// 认证流程的错误分类，上层（HTTP 接口）据此选择响应方式
var (
	// ErrFeishuNotConfigured 飞书 OAuth 缺少 app_id/app_secret/redirect_uri
	ErrFeishuNotConfigured = errors.New("飞书 OAuth 未配置")
	// ErrLinuxDoNotConfigured Linux.do OAuth 缺少 client_id/client_secret/redirect_uri
	ErrLinuxDoNotConfigured = errors.New("Linux.do OAuth 未配置")
	// ErrMissingCode 回调请求缺少授权码
	ErrMissingCode = errors.New("缺少授权码")
	// ErrMissingOpenID 飞书资料缺少 open_id，无法继续
	ErrMissingOpenID = errors.New("用户信息中缺少open_id")
	// ErrMissingLinuxDoID Linux.do 资料缺少 id，无法继续
	ErrMissingLinuxDoID = errors.New("用户信息中缺少id字段")
	// ErrUsernameExists 本地账号用户名冲突
	ErrUsernameExists = errors.New("用户名已存在")
	// ErrUserNotFound 按 id 操作的用户不存在
	ErrUserNotFound = errors.New("用户不存在")
	// ErrWrongPassword 修改密码时原密码校验失败
	ErrWrongPassword = errors.New("原密码错误")
	// ErrNotLocalAccount 密码只属于本地账号，OAuth 账号不持有密码哈希
	ErrNotLocalAccount = errors.New("该账号不支持密码登录")
)

// ProviderError OAuth 提供方返回的业务失败或网络失败
type ProviderError struct {
	Provider string // "feishu" / "linux_do"
	Message  string
	Err      error // 底层网络错误，可为 nil
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// newProviderError 构造提供方错误
func newProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Err: err}
}
