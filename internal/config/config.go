package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"street-dice/internal/game"
)

type Config struct {
	BotToken    string `env:"BOT_TOKEN"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"street_dice.db"`
	LogDir      string `env:"LOG_DIR" envDefault:"logs"`
	LogDebug    bool   `env:"LOG_DEBUG" envDefault:"false"`

	// hub
	HubAddr string `env:"HUB_ADDR" envDefault:":8080"`
	HubURL  string `env:"HUB_URL" envDefault:"http://localhost:8080"`

	// 交互时序
	ChargeMax     time.Duration `env:"CHARGE_MAX" envDefault:"2500ms"`
	RollDuration  time.Duration `env:"ROLL_DURATION" envDefault:"650ms"`
	ShakeInterval time.Duration `env:"SHAKE_INTERVAL" envDefault:"80ms"`

	// 机器人
	BotWorkers  int     `env:"BOT_WORKERS" envDefault:"8"`
	BotEditRate float64 `env:"BOT_EDIT_RATE" envDefault:"20"`

	// HTTPS配置
	Domain       string `env:"DOMAIN"`
	EnableHTTPS  bool   `env:"ENABLE_HTTPS" envDefault:"false"`
	HTTPSPort    string `env:"HTTPS_PORT" envDefault:"443"`
	CertCacheDir string `env:"CERT_CACHE_DIR" envDefault:"./certs"`
	AdminEmail   string `env:"ADMIN_EMAIL"`

	// 控制台玩家
	PlayerID   string `env:"PLAYER_ID"`
	PlayerName string `env:"PLAYER_NAME"`
}

// Load 先读取 .env（可选），再解析环境变量
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查与运行模式无关的配置
func (c *Config) Validate() error {
	if c.ChargeMax <= 0 || c.RollDuration <= 0 || c.ShakeInterval <= 0 {
		return errors.New("CHARGE_MAX, ROLL_DURATION 和 SHAKE_INTERVAL 必须为正数")
	}
	if c.BotWorkers <= 0 {
		return errors.New("BOT_WORKERS 必须为正数")
	}
	if c.BotEditRate <= 0 {
		return errors.New("BOT_EDIT_RATE 必须为正数")
	}
	if c.EnableHTTPS && c.Domain == "" {
		return errors.New("启用 HTTPS 时必须设置 DOMAIN")
	}
	return nil
}

// ValidateBot 机器人模式额外要求 token
func (c *Config) ValidateBot() error {
	if c.BotToken == "" {
		return errors.New("机器人模式需要设置 BOT_TOKEN")
	}
	return nil
}

// Timing 交互控制器使用的时序
func (c *Config) Timing() game.Timing {
	return game.Timing{
		MaxCharge:     c.ChargeMax,
		RollDuration:  c.RollDuration,
		ShakeInterval: c.ShakeInterval,
	}
}
