package myjwt

import (
	"errors"
	"time"

	"ChatBase/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims 面板登录态，uuid 贯穿所有归属校验
type UserClaims struct {
	Uuid     string `json:"uuid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var errNoSigningKey = errors.New("jwt key is empty")

func signingKey() ([]byte, error) {
	key := config.GetConfig().JwtConfig.Key
	if key == "" {
		return nil, errNoSigningKey
	}
	return []byte(key), nil
}

// GenerateToken 登录成功后签发，HS256
func GenerateToken(uuid string, username string) (string, error) {
	key, err := signingKey()
	if err != nil {
		return "", err
	}

	conf := config.GetConfig()
	expireHours := conf.JwtConfig.ExpireHours
	if expireHours <= 0 {
		expireHours = 24
	}
	issuer := conf.JwtConfig.Issuer
	if issuer == "" {
		issuer = conf.MainConfig.AppName
	}

	now := time.Now()
	claims := UserClaims{
		Uuid:     uuid,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// ParseToken 校验签名和有效期。HTTP 走 Authorization 头，
// 状态推送的 websocket 握手走 query 参数，两边都经这里。
func ParseToken(tokenString string) (*UserClaims, error) {
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
