package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr"` // 监听地址，例如 ":8080"
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `yaml:"level"`       // 日志级别: debug, info, warn, error
	File       string `yaml:"file"`        // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    `yaml:"max_size"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `yaml:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age"`     // 保留旧日志文件的天数
	Compress   bool   `yaml:"compress"`    // 是否压缩旧日志文件
}

// AccountConfig 交易所账户配置
// 同一账户下的所有订单操作串行执行，多个账户之间互不影响
type AccountConfig struct {
	Name          string `yaml:"name"`           // 账户名，策略配置中通过该名字引用
	BaseURL       string `yaml:"base_url"`       // REST API 地址
	WSURL         string `yaml:"ws_url"`         // WebSocket 用户数据流地址（可选）
	APIKey        string `yaml:"api_key"`        // API Key（支持 ${ENV_VAR} 占位符）
	APISecret     string `yaml:"api_secret"`     // API Secret（支持 ${ENV_VAR} 占位符）
	DefaultMarket string `yaml:"default_market"` // 默认交易对，例如 BTC-USD
	TimeoutSecs   int    `yaml:"timeout_secs"`   // 单次交易所调用超时（秒），默认 10
}

// Config 应用配置
type Config struct {
	Server             ServerConfig    `yaml:"server"`
	Logging            LoggingConfig   `yaml:"logging"`
	Accounts           []AccountConfig `yaml:"accounts"`
	DataDir            string          `yaml:"data_dir"`             // 本地持久化目录（订单对账快照）
	StatusPushInterval int             `yaml:"status_push_interval"` // 状态推送间隔（秒），默认 2
}

var globalConfig *Config

// LoadFromFile 从 YAML 文件加载配置
func LoadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
	}

	cfg.applyDefaults()
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Default 返回一份默认配置（未配置文件时使用）
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	globalConfig = cfg
	return cfg
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = getEnv("SERVER_ADDR", ":8080")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = getEnv("LOG_LEVEL", "info")
	}
	if c.Logging.File == "" {
		c.Logging.File = getEnv("LOG_FILE", "logs/combined.log")
	}
	if c.Logging.MaxSize <= 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge <= 0 {
		c.Logging.MaxAge = 7
	}
	if c.DataDir == "" {
		c.DataDir = getEnv("DATA_DIR", "data")
	}
	if c.StatusPushInterval <= 0 {
		c.StatusPushInterval = parseIntEnv("STATUS_PUSH_INTERVAL", 2)
	}
	for i := range c.Accounts {
		if c.Accounts[i].TimeoutSecs <= 0 {
			c.Accounts[i].TimeoutSecs = 10
		}
	}
}

// expandEnv 替换账户配置中的 ${ENV_VAR} 占位符
// 密钥不建议写死在配置文件里
func (c *Config) expandEnv() {
	for i := range c.Accounts {
		c.Accounts[i].APIKey = expandPlaceholder(c.Accounts[i].APIKey)
		c.Accounts[i].APISecret = expandPlaceholder(c.Accounts[i].APISecret)
	}
}

func expandPlaceholder(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}"))
	}
	return v
}

// Validate 验证配置
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, acc := range c.Accounts {
		if acc.Name == "" {
			return fmt.Errorf("账户名 name 不能为空")
		}
		if seen[acc.Name] {
			return fmt.Errorf("账户名重复: %s", acc.Name)
		}
		seen[acc.Name] = true
		if acc.BaseURL == "" {
			return fmt.Errorf("账户 %s 的 base_url 不能为空", acc.Name)
		}
	}
	return nil
}

// Account 按名字查找账户配置
func (c *Config) Account(name string) (*AccountConfig, bool) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], true
		}
	}
	return nil, false
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
