// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Amnesia  AmnesiaConfig  `mapstructure:"amnesia"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。DSN 为空时不启用审计日志落库。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发布遗忘事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey       string              `mapstructure:"api_key"`
	BaseURL      string              `mapstructure:"base_url"`
	Model        string              `mapstructure:"model"`
	SystemPrompt string              `mapstructure:"system_prompt"`
	Generation   LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AmnesiaConfig 存储遗忘/反悔功能的配置。
type AmnesiaConfig struct {
	MinRounds     int           `mapstructure:"min_rounds"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepSpec     string        `mapstructure:"sweep_spec"`
	PreviewLength int           `mapstructure:"preview_length"`
	// InvalidateOn 决定哪类新活动会清除可反悔记录："llm_request" 或 "any_message"。
	InvalidateOn string        `mapstructure:"invalidate_on"`
	HistoryTTL   time.Duration `mapstructure:"history_ttl"`
}

// Defaults 返回所有可选项的默认值。
func Defaults() AmnesiaConfig {
	return AmnesiaConfig{
		MinRounds:     1,
		MaxRounds:     10,
		PendingTTL:    30 * time.Minute,
		SweepSpec:     "@every 5m",
		PreviewLength: 50,
		InvalidateOn:  "llm_request",
		HistoryTTL:    7 * 24 * time.Hour,
	}
}

// withDefaults 用默认值填充未配置的字段。
func (c AmnesiaConfig) withDefaults() AmnesiaConfig {
	d := Defaults()
	if c.MinRounds <= 0 {
		c.MinRounds = d.MinRounds
	}
	if c.MaxRounds < c.MinRounds {
		c.MaxRounds = d.MaxRounds
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = d.PendingTTL
	}
	if c.SweepSpec == "" {
		c.SweepSpec = d.SweepSpec
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = d.PreviewLength
	}
	if c.InvalidateOn == "" {
		c.InvalidateOn = d.InvalidateOn
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = d.HistoryTTL
	}
	return c
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Load 读取并解析配置文件，不修改全局变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AMNESIA")
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	cfg.Amnesia = cfg.Amnesia.withDefaults()
	return cfg, nil
}
