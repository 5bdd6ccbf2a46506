package service

import (
	"testing"

	"ChatBase/internal/config"
	"ChatBase/internal/modules/user/application/dto/request"
	"ChatBase/internal/modules/user/domain/entity"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func init() {
	// 测试环境没有配置文件，签发 token 需要一个密钥
	config.GetConfig().JwtConfig.Key = "unit-test-key"
}

type fakeUserRepo struct {
	byUsername map[string]*entity.UserInfo
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byUsername: make(map[string]*entity.UserInfo)}
}

func (r *fakeUserRepo) CreateUserInfo(user *entity.UserInfo) error {
	cp := *user
	r.byUsername[user.Username] = &cp
	return nil
}

func (r *fakeUserRepo) GetUserInfoByUsername(username string) (*entity.UserInfo, error) {
	if u, ok := r.byUsername[username]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetUserInfoByUUIDWithoutPassword(uuid string) (*entity.UserInfo, error) {
	for _, u := range r.byUsername {
		if u.Uuid == uuid {
			cp := *u
			cp.Password = ""
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func TestRegisterHashesPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserInfoService(repo)

	res, err := svc.Register(request.RegisterRequest{Username: "alice", Password: "secret123"})
	if err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if res.Uuid == "" || res.Username != "alice" {
		t.Fatalf("注册响应不完整: %+v", res)
	}

	stored := repo.byUsername["alice"]
	if stored.Password == "secret123" {
		t.Fatalf("密码不能明文入库")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("secret123")); err != nil {
		t.Fatalf("入库的应是 bcrypt 哈希: %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserInfoService(repo)
	if _, err := svc.Register(request.RegisterRequest{Username: "alice", Password: "secret123"}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}
	if _, err := svc.Register(request.RegisterRequest{Username: "alice", Password: "another456"}); err == nil {
		t.Fatalf("重复用户名应被拒绝")
	}
}

func TestRegisterWeakPassword(t *testing.T) {
	svc := NewUserInfoService(newFakeUserRepo())
	if _, err := svc.Register(request.RegisterRequest{Username: "bob", Password: "123"}); err == nil {
		t.Fatalf("过短的密码应被拒绝")
	}
}

func TestLoginSuccessReturnsToken(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserInfoService(repo)
	if _, err := svc.Register(request.RegisterRequest{Username: "alice", Password: "secret123"}); err != nil {
		t.Fatalf("注册失败: %v", err)
	}

	res, err := svc.Login(request.LoginRequest{Username: "alice", Password: "secret123"})
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}
	if res.Token == "" {
		t.Fatalf("登录应签发 token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserInfoService(repo)
	_, _ = svc.Register(request.RegisterRequest{Username: "alice", Password: "secret123"})

	_, errWrongPass := svc.Login(request.LoginRequest{Username: "alice", Password: "wrong"})
	if errWrongPass == nil {
		t.Fatalf("错误密码应登录失败")
	}
	_, errNoUser := svc.Login(request.LoginRequest{Username: "nobody", Password: "whatever"})
	if errNoUser == nil {
		t.Fatalf("未知用户应登录失败")
	}
	// 两种失败返回同样的提示，避免用户名枚举
	if errWrongPass.Error() != errNoUser.Error() {
		t.Fatalf("错误密码与未知用户的提示应一致: %q vs %q", errWrongPass.Error(), errNoUser.Error())
	}
}

func TestLoginDisabledUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserInfoService(repo)
	_, _ = svc.Register(request.RegisterRequest{Username: "alice", Password: "secret123"})
	repo.byUsername["alice"].Status = entity.UserStatusDisabled

	if _, err := svc.Login(request.LoginRequest{Username: "alice", Password: "secret123"}); err == nil {
		t.Fatalf("被禁用的账号不应能登录")
	}
}
