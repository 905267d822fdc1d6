package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long"

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"DROPMAIL_AUTH_JWT_SECRET",
		"DROPMAIL_SERVER_HOST",
		"DROPMAIL_SERVER_PORT",
		"DROPMAIL_SMTP_BIND_ADDR",
		"DROPMAIL_SMTP_DOMAIN",
		"DROPMAIL_MAILBOX_ALLOWED_DOMAINS",
		"DROPMAIL_MAILBOX_PAGE_SIZE",
		"DROPMAIL_CORS_ALLOWED_ORIGINS",
		"DROPMAIL_LOG_LEVEL",
		"DROPMAIL_LOG_DEVELOPMENT",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	clearEnv := func() {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
	}

	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv()
		os.Setenv("DROPMAIL_AUTH_JWT_SECRET", testSecret)

		cfg, err := Load()
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, ":2525", cfg.SMTP.BindAddr)
		assert.Equal(t, "drop.mail", cfg.SMTP.Domain)
		assert.Equal(t, []string{"drop.mail"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 20, cfg.Mailbox.PageSize)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "dropmail", cfg.Auth.Issuer)
		assert.Empty(t, cfg.Database.Type)
		assert.Empty(t, cfg.Redis.Address)
	})

	t.Run("缺少JWT密钥时报错", func(t *testing.T) {
		clearEnv()

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("JWT密钥过短时报错", func(t *testing.T) {
		clearEnv()
		os.Setenv("DROPMAIL_AUTH_JWT_SECRET", "too-short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		clearEnv()
		os.Setenv("DROPMAIL_AUTH_JWT_SECRET", testSecret)
		os.Setenv("DROPMAIL_SERVER_PORT", "9090")
		os.Setenv("DROPMAIL_SMTP_BIND_ADDR", ":25")
		os.Setenv("DROPMAIL_LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, ":25", cfg.SMTP.BindAddr)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("域名列表按逗号拆分并小写化", func(t *testing.T) {
		clearEnv()
		os.Setenv("DROPMAIL_AUTH_JWT_SECRET", testSecret)
		os.Setenv("DROPMAIL_MAILBOX_ALLOWED_DOMAINS", "Drop.Mail, tmp.example , ")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []string{"drop.mail", "tmp.example"}, cfg.Mailbox.AllowedDomains)
	})

	t.Run("非法页大小回退到默认值", func(t *testing.T) {
		clearEnv()
		os.Setenv("DROPMAIL_AUTH_JWT_SECRET", testSecret)
		os.Setenv("DROPMAIL_MAILBOX_PAGE_SIZE", "-5")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Mailbox.PageSize)
	})
}
