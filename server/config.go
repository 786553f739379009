package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"snakearena/game"
	"snakearena/protocol"
)

// Config 服务端全部可调参数
type Config struct {
	Addr     string `yaml:"addr"`      // TCP 监听地址
	HTTPAddr string `yaml:"http_addr"` // WebSocket 与管理接口
	Codec    string `yaml:"codec"`     // msgpack | json

	AuthTimeout  time.Duration `yaml:"auth_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"` // 0 表示不限制
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendQueue    int           `yaml:"send_queue"`

	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`

	TickInterval time.Duration `yaml:"tick_interval"`
	RoomCapacity int           `yaml:"room_capacity"`

	Game struct {
		Width        int `yaml:"width"`
		Height       int `yaml:"height"`
		InitialFood  int `yaml:"initial_food"`
		ScorePerFood int `yaml:"score_per_food"`
	} `yaml:"game"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func DefaultConfig() Config {
	cfg := Config{
		Addr:              ":8888",
		HTTPAddr:          ":8080",
		Codec:             "msgpack",
		AuthTimeout:       30 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		SendQueue:         64,
		MessagesPerSecond: 20,
		MessageBurst:      40,
		TickInterval:      100 * time.Millisecond,
		RoomCapacity:      4,
		Log: LogConfig{
			Level:      "info",
			File:       "app.log",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
	g := game.DefaultConfig()
	cfg.Game.Width = g.Width
	cfg.Game.Height = g.Height
	cfg.Game.InitialFood = g.InitialFood
	cfg.Game.ScorePerFood = g.ScorePerFood
	return cfg
}

// LoadConfig 读取 YAML 配置；path 为空或文件不存在时使用默认值，随后应用环境变量覆盖
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SNAKE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("SNAKE_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("SNAKE_CODEC"); v != "" {
		c.Codec = v
	}
	if v := os.Getenv("SNAKE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("SNAKE_LOG_FILE"); ok {
		c.Log.File = v
	}
}

func (c Config) Validate() error {
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.AuthTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("config: timeouts must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("config: tick_interval must be positive")
	}
	if c.IdleTimeout < 0 {
		return errors.New("config: idle_timeout must not be negative")
	}
	if c.RoomCapacity < 1 {
		return errors.New("config: room_capacity must be at least 1")
	}
	if c.SendQueue < 1 {
		return errors.New("config: send_queue must be at least 1")
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst < 1 {
		return errors.New("config: message rate must be positive")
	}
	if c.Game.Width < 8 || c.Game.Height < 8 {
		return fmt.Errorf("config: grid %dx%d is smaller than 8x8", c.Game.Width, c.Game.Height)
	}
	if c.Game.InitialFood < 0 || c.Game.ScorePerFood < 0 {
		return errors.New("config: food settings must not be negative")
	}
	return nil
}

// GameConfig 转换为模拟引擎参数
func (c Config) GameConfig() game.Config {
	g := game.DefaultConfig()
	g.Width = c.Game.Width
	g.Height = c.Game.Height
	g.InitialFood = c.Game.InitialFood
	g.ScorePerFood = c.Game.ScorePerFood
	return g
}
