package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateShortUUID 生成不带中划线的 UUID。
// 面板侧会话的 session_key 用它，和小部件访客自带的键格式区分开
func GenerateShortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
