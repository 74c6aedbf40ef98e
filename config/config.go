// Package config 基于 Viper 加载中继服务配置（YAML 文件 + TTT_ 环境变量 + 默认值）
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig HTTP 与 WebSocket 传输配置
type ServerConfig struct {
	// 监听地址，如 ":3000"
	Addr string `mapstructure:"addr"`
	// 客户端静态资源目录，挂在 "/"；为空则不提供
	StaticDir string `mapstructure:"static_dir"`
	// 单个入站帧的最大字节数
	ReadLimit int64 `mapstructure:"read_limit"`
	// 连接静默超过该时长即断开
	PongWait time.Duration `mapstructure:"pong_wait"`
	// 服务端 ping 间隔，必须小于 PongWait
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// 单次写出的超时
	WriteWait time.Duration `mapstructure:"write_wait"`
	// 每个连接的发送队列长度
	SendBuffer int `mapstructure:"send_buffer"`
	// 网关事件队列长度
	InboxSize int `mapstructure:"inbox_size"`
	// 允许升级的 Origin 白名单；为空则不限制
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RoomsConfig 房间码与文本长度限制
type RoomsConfig struct {
	// 房间码字符数
	CodeLength int `mapstructure:"code_length"`
	// 房间码冲突时的最大重试次数
	MaxCodeAttempts int `mapstructure:"max_code_attempts"`
	// 昵称长度上限（按 rune 计）
	MaxNameLength int `mapstructure:"max_name_length"`
	// 聊天消息长度上限（按 rune 计）
	MaxChatLength int `mapstructure:"max_chat_length"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// debug | info | warn | error
	Level string `mapstructure:"level"`
	// json | console
	Format string `mapstructure:"format"`
	// 滚动日志文件路径；为空输出到 stdout
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config 顶层配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate 校验全部配置项，所有违规合并为一个错误返回
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRooms(c.Rooms); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if s.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("server.read_limit must be >= 1, got %d", s.ReadLimit))
	}
	if s.PongWait <= 0 {
		errs = append(errs, "server.pong_wait must be positive")
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		errs = append(errs, "server.ping_period must be positive and shorter than server.pong_wait")
	}
	if s.WriteWait <= 0 {
		errs = append(errs, "server.write_wait must be positive")
	}
	if s.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("server.send_buffer must be >= 1, got %d", s.SendBuffer))
	}
	if s.InboxSize < 1 {
		errs = append(errs, fmt.Sprintf("server.inbox_size must be >= 1, got %d", s.InboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRooms(r RoomsConfig) error {
	var errs []string
	// 至少 36^6 种房间码
	if r.CodeLength < 6 || r.CodeLength > 16 {
		errs = append(errs, fmt.Sprintf("rooms.code_length must be 6-16, got %d", r.CodeLength))
	}
	if r.MaxCodeAttempts < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_code_attempts must be >= 1, got %d", r.MaxCodeAttempts))
	}
	if r.MaxNameLength < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_name_length must be >= 1, got %d", r.MaxNameLength))
	}
	if r.MaxChatLength < 1 {
		errs = append(errs, fmt.Sprintf("rooms.max_chat_length must be >= 1, got %d", r.MaxChatLength))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.File != "" && l.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be >= 1 when logging.file is set, got %d", l.MaxSizeMB)
	}
	return nil
}

// Load 读取配置文件（可选）、应用环境变量覆盖并校验
// path 为空时只使用默认值与环境变量
func Load(path string) (Config, error) {
	v := viper.New()

	// 环境变量覆盖，如 TTT_SERVER_ADDR
	v.SetEnvPrefix("TTT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// LoadFromViper 从已配置的 Viper 实例解析并校验配置
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default 返回内置默认配置，不读文件也不读环境变量
func Default() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := LoadFromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.read_limit", 4096)
	v.SetDefault("server.pong_wait", "60s")
	v.SetDefault("server.ping_period", "54s")
	v.SetDefault("server.write_wait", "10s")
	v.SetDefault("server.send_buffer", 64)
	v.SetDefault("server.inbox_size", 256)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("rooms.code_length", 6)
	v.SetDefault("rooms.max_code_attempts", 16)
	v.SetDefault("rooms.max_name_length", 32)
	v.SetDefault("rooms.max_chat_length", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
}
