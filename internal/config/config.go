// Package config 从环境变量与 .env 文件加载系统配置。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置。
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义入站 SMTP 服务器配置。
type SMTPConfig struct {
	BindAddr       string // 监听地址，格式 "host:port"，默认 ":2525"
	Domain         string // HELO/EHLO 响应使用的域名
	MaxConnections int    // 最大并发连接数
	MaxConnRate    int    // 每秒最大新建连接数
}

// MailboxConfig 定义邮箱业务配置。
type MailboxConfig struct {
	AllowedDomains []string // 可建址/可收信的域名列表；为空表示收信不限域名
	PageSize       int      // 邮箱列表页大小，默认 20
}

// OutboundConfig 定义出站中继配置。
type OutboundConfig struct {
	Host     string // 中继主机，为空表示禁用出站
	Port     int    // 中继端口，默认 587
	Username string
	Password string
}

// DatabaseConfig 定义数据库连接配置（支持 PostgreSQL 与 MySQL）。
type DatabaseConfig struct {
	Type string // "postgres" 或 "mysql"；为空使用内存存储
	DSN  string
}

// RedisConfig 定义 Redis 缓存配置。
type RedisConfig struct {
	Address  string // 为空表示禁用缓存
	Password string
	DB       int
}

// AuthConfig 定义身份令牌校验配置。
// 认证本身委托给外部身份提供方，这里只校验其签发的令牌。
type AuthConfig struct {
	JWTSecret string // 校验签名用的共享密钥
	Issuer    string // 期望的签发者标识
}

// CORSConfig 定义跨域配置。
type CORSConfig struct {
	AllowedOrigins []string
}

// LogConfig 定义日志配置。
type LogConfig struct {
	Level       string
	Development bool
	File        string
}

// Config 是系统配置的根结构体。
type Config struct {
	Server   ServerConfig
	SMTP     SMTPConfig
	Mailbox  MailboxConfig
	Outbound OutboundConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
}

// Load 加载配置。
//
// 优先级从高到低：系统环境变量、.env 文件、默认值。
// 环境变量前缀 DROPMAIL_，例如 DROPMAIL_SMTP_BIND_ADDR。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("dropmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("smtp.bind_addr", ":2525")
	viper.SetDefault("smtp.domain", "drop.mail")
	viper.SetDefault("smtp.max_connections", 100)
	viper.SetDefault("smtp.max_conn_rate", 50)
	viper.SetDefault("mailbox.allowed_domains", "drop.mail")
	viper.SetDefault("mailbox.page_size", 20)
	viper.SetDefault("outbound.host", "")
	viper.SetDefault("outbound.port", 587)
	viper.SetDefault("outbound.username", "")
	viper.SetDefault("outbound.password", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.issuer", "dropmail")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	pageSize := viper.GetInt("mailbox.page_size")
	if pageSize <= 0 {
		pageSize = 20
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required: set DROPMAIL_AUTH_JWT_SECRET")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("auth.jwt_secret must be at least 32 characters long")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:       viper.GetString("smtp.bind_addr"),
			Domain:         viper.GetString("smtp.domain"),
			MaxConnections: viper.GetInt("smtp.max_connections"),
			MaxConnRate:    viper.GetInt("smtp.max_conn_rate"),
		},
		Mailbox: MailboxConfig{
			AllowedDomains: parseDomains(viper.GetString("mailbox.allowed_domains")),
			PageSize:       pageSize,
		},
		Outbound: OutboundConfig{
			Host:     viper.GetString("outbound.host"),
			Port:     viper.GetInt("outbound.port"),
			Username: viper.GetString("outbound.username"),
			Password: viper.GetString("outbound.password"),
		},
		Database: DatabaseConfig{
			Type: viper.GetString("database.type"),
			DSN:  viper.GetString("database.dsn"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			Issuer:    viper.GetString("auth.issuer"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组。
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片。
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件，文件不存在时静默跳过。
func loadEnvFile() {
	candidates := []string{".env"}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(wd), ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}
