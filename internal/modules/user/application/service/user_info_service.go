package service

import (
	"errors"
	"strings"
	"time"

	"ChatBase/internal/modules/user/application/dto/request"
	"ChatBase/internal/modules/user/application/dto/respond"
	"ChatBase/internal/modules/user/domain/entity"
	"ChatBase/internal/modules/user/domain/repository"
	"ChatBase/pkg/util/myjwt"
	"ChatBase/pkg/xerr"
	"ChatBase/pkg/zlog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultAvatar = "https://cube.elemecdn.com/0/88/03b0d39583f48206768a7534e55bcpng.png"

// UserInfoService 接口定义 (Application Service)
type UserInfoService interface {
	Register(req request.RegisterRequest) (*respond.RegisterRespond, error)
	Login(req request.LoginRequest) (*respond.LoginRespond, error)
}

type userInfoServiceImpl struct {
	repo repository.UserInfoRepository
}

// NewUserInfoService 构造函数
func NewUserInfoService(repo repository.UserInfoRepository) UserInfoService {
	return &userInfoServiceImpl{repo: repo}
}

func (u *userInfoServiceImpl) Register(req request.RegisterRequest) (*respond.RegisterRespond, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, xerr.New(xerr.BadRequest, "用户名和密码不能为空")
	}
	if len(req.Password) < 6 {
		return nil, xerr.New(xerr.BadRequest, "密码长度至少 6 位")
	}

	if _, err := u.repo.GetUserInfoByUsername(username); err == nil {
		return nil, xerr.New(xerr.BadRequest, "用户已存在")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		zlog.Error(err.Error())
		return nil, xerr.ErrServerError
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = username
	}

	now := time.Now()
	newUser := entity.UserInfo{
		Uuid:      uuid.NewString(),
		Username:  username,
		Nickname:  nickname,
		Password:  string(hashed),
		Avatar:    defaultAvatar,
		Status:    entity.UserStatusNormal,
		IsAdmin:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.repo.CreateUserInfo(&newUser); err != nil {
		zlog.Error(err.Error())
		return nil, xerr.ErrServerError
	}

	return &respond.RegisterRespond{
		Uuid:     newUser.Uuid,
		Username: newUser.Username,
		Nickname: newUser.Nickname,
		Avatar:   newUser.Avatar,
	}, nil
}

func (u *userInfoServiceImpl) Login(req request.LoginRequest) (*respond.LoginRespond, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, xerr.New(xerr.BadRequest, "用户名和密码不能为空")
	}

	user, err := u.repo.GetUserInfoByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 用户不存在和密码错误用同一个提示
			return nil, xerr.New(xerr.Unauthorized, "用户名或密码错误")
		}
		return nil, err
	}
	if user.Status != entity.UserStatusNormal {
		return nil, xerr.New(xerr.Forbidden, "账号已被禁用，请联系管理员")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, xerr.New(xerr.Unauthorized, "用户名或密码错误")
	}

	token, err := myjwt.GenerateToken(user.Uuid, user.Username)
	if err != nil {
		zlog.Error(err.Error())
		return nil, xerr.ErrServerError
	}

	return &respond.LoginRespond{
		Uuid:     user.Uuid,
		Username: user.Username,
		Nickname: user.Nickname,
		Avatar:   user.Avatar,
		Token:    token,
	}, nil
}
