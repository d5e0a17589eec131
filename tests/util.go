// Package testutil holds the fixtures shared by the integration tests of the apps.
package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

// StrongPassword satisfies the password policy for any of the users created by tests.
const StrongPassword = "Kx9#mPq2$vL7"

// Config returns the configuration used by tests: in-memory storage, no redis, no remote sinks.
func Config() *core.Config {
	return &core.Config{
		AppName:                   "Chuo",
		Build:                     "test",
		Env:                       "TEST",
		TestMode:                  true,
		SecretKey:                 "test-secret",
		FrontendBaseURL:           "http://chuo.test",
		PasswordResetTimeoutDelta: time.Hour,
		Server: core.ServerConfig{
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			SessionName:               "chuo_session",
			DisableReqLogs:            true,
		},
		Database: core.DatabaseConfig{InMemory: true},
		Redis:    core.RedisConfig{Disabled: true},
		Email: core.EmailConfig{
			DefaultFromName:    "Chuo",
			DefaultFromAddress: "noreply@chuo.test",
		},
	}
}

// NewValidators returns the request validator & the schema validator, sharing one translator.
func NewValidators(t *testing.T) (*validator.Validate, ut.Translator, *schema.Validator) {
	t.Helper()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	v, err := schema.NewValidator(validate, translator)
	if err != nil {
		t.Fatalf("schema.NewValidator() failed: %v", err)
	}
	return validate, translator, v
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd, role, status string,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:        name,
		Username:    uname,
		Email:       email,
		Role:        role,
		Status:      status,
		Permissions: user.DefaultPermissions(role),
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
