package service

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost bcrypt 工作因子，固定为 12
const PasswordCost = 12

// HashPassword 生成密码哈希
// 每次调用产生新的随机盐，同一明文两次哈希结果不同
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("密码加密失败: %w", err)
	}
	return string(hash), nil
}

// CheckPassword 校验明文密码与存储的哈希是否匹配
// 存储值格式非法时返回 false，不抛错
func CheckPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
