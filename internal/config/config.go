// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // used to build notify/return URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"` // bearer tokens issued by the auth service
}

type WeChatConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AppID             string        `yaml:"app_id"`
	MchID             string        `yaml:"mch_id"`
	SerialNo          string        `yaml:"serial_no"` // merchant certificate serial
	PrivateKey        string        `yaml:"private_key"`
	PrivateKeyFile    string        `yaml:"private_key_file"`
	APIv3Key          string        `yaml:"api_v3_key"`
	PlatformPublicKey string        `yaml:"platform_public_key"` // optional; enables notification signature check
	PlatformKeyFile   string        `yaml:"platform_public_key_file"`
	PlatformSerial    string        `yaml:"platform_serial"`
	BaseURL           string        `yaml:"base_url"`
	NotifyPath        string        `yaml:"notify_path"`
	Timeout           time.Duration `yaml:"timeout"`
}

type AlipayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	AppID          string        `yaml:"app_id"`
	PrivateKey     string        `yaml:"private_key"`
	PrivateKeyFile string        `yaml:"private_key_file"`
	PublicKey      string        `yaml:"alipay_public_key"`
	PublicKeyFile  string        `yaml:"alipay_public_key_file"`
	GatewayURL     string        `yaml:"gateway_url"`
	NotifyPath     string        `yaml:"notify_path"`
	ReturnPath     string        `yaml:"return_path"`
	Timeout        time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	WeChat WeChatConfig `yaml:"wechat"`
	Alipay AlipayConfig `yaml:"alipay"`
}

// BillingConfig holds product-level heuristics that are policy, not protocol.
type BillingConfig struct {
	Currency          string        `yaml:"currency"`
	DuplicateWindow   time.Duration `yaml:"duplicate_window"`
	NotFoundAsPending *bool         `yaml:"not_found_as_pending"`
	OrderIDPrefix     string        `yaml:"order_id_prefix"`
	CreateRetries     int           `yaml:"create_retries"`
	RateLimit         int           `yaml:"rate_limit"` // create requests per user per minute
}

type PlanPrice struct {
	Price       int64  `yaml:"price"` // minor units
	Days        int    `yaml:"days"`
	Description string `yaml:"description"`
}

type CreditPackageConfig struct {
	Price        int64  `yaml:"price"`
	Credits      int64  `yaml:"credits"`
	ValidityDays int    `yaml:"validity_days"`
	Description  string `yaml:"description"`
}

type CatalogConfig struct {
	// Plans maps plan type -> billing cycle -> price.
	Plans          map[string]map[string]PlanPrice `yaml:"plans"`
	CreditPackages map[string]CreditPackageConfig  `yaml:"credit_packages"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Batch      int           `yaml:"batch"`
}

type ExpiryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type TelegramAlertConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

type AlertsConfig struct {
	Telegram TelegramAlertConfig `yaml:"telegram"`
	Workers  int                 `yaml:"workers"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Payment    PaymentConfig    `yaml:"payment"`
	Billing    BillingConfig    `yaml:"billing"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Expiry     ExpiryConfig     `yaml:"expiry"`
	Alerts     AlertsConfig     `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

// NotFoundIsPending reports the "order not found => pending" policy (default on).
func (b BillingConfig) NotFoundIsPending() bool {
	return b.NotFoundAsPending == nil || *b.NotFoundAsPending
}

// URL joins the public base URL and a path.
func (s ServerConfig) URL(path string) string {
	return strings.TrimRight(s.PublicBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, resolves key files, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.resolveKeyFiles(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 20 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}

	if c.Payment.WeChat.BaseURL == "" {
		c.Payment.WeChat.BaseURL = "https://api.mch.weixin.qq.com"
	}
	if c.Payment.WeChat.NotifyPath == "" {
		c.Payment.WeChat.NotifyPath = "/api/v1/payments/notify/wechat"
	}
	if c.Payment.WeChat.Timeout <= 0 {
		c.Payment.WeChat.Timeout = 15 * time.Second
	}
	if c.Payment.Alipay.GatewayURL == "" {
		c.Payment.Alipay.GatewayURL = "https://openapi.alipay.com/gateway.do"
	}
	if c.Payment.Alipay.NotifyPath == "" {
		c.Payment.Alipay.NotifyPath = "/api/v1/payments/notify/alipay"
	}
	if c.Payment.Alipay.ReturnPath == "" {
		c.Payment.Alipay.ReturnPath = "/billing/return"
	}
	if c.Payment.Alipay.Timeout <= 0 {
		c.Payment.Alipay.Timeout = 15 * time.Second
	}

	if c.Billing.Currency == "" {
		c.Billing.Currency = "CNY"
	}
	if c.Billing.DuplicateWindow <= 0 {
		c.Billing.DuplicateWindow = 60 * time.Second
	}
	if c.Billing.OrderIDPrefix == "" {
		c.Billing.OrderIDPrefix = "CN"
	}
	if c.Billing.CreateRetries <= 0 {
		c.Billing.CreateRetries = 3
	}
	if c.Billing.RateLimit <= 0 {
		c.Billing.RateLimit = 10
	}

	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = time.Minute
	}
	if c.Reconciler.StaleAfter <= 0 {
		c.Reconciler.StaleAfter = 10 * time.Minute
	}
	if c.Reconciler.Batch <= 0 {
		c.Reconciler.Batch = 200
	}
	if c.Expiry.Interval <= 0 {
		c.Expiry.Interval = time.Hour
	}
	if c.Alerts.Workers <= 0 {
		c.Alerts.Workers = 2
	}
}

func (c *Config) validate() error {
	// Minimal validation; gateway credentials are checked by the gateway constructors.
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Auth.HMACSecret == "" {
		return errors.New("auth.hmac_secret is required")
	}
	if c.Server.PublicBaseURL == "" {
		return errors.New("server.public_base_url is required")
	}
	wp, ap := c.Payment.WeChat.NotifyPath, c.Payment.Alipay.NotifyPath
	if !strings.HasPrefix(wp, "/") || !strings.HasPrefix(ap, "/") {
		return errors.New("payment notify_path values must start with /")
	}
	if wp == ap {
		return fmt.Errorf("payment.wechat.notify_path and payment.alipay.notify_path are both %s", wp)
	}
	for plan, cycles := range c.Catalog.Plans {
		for cycle, p := range cycles {
			if p.Price <= 0 || p.Days <= 0 {
				return fmt.Errorf("catalog.plans.%s.%s: price and days must be positive", plan, cycle)
			}
		}
	}
	for id, p := range c.Catalog.CreditPackages {
		if p.Price <= 0 || p.Credits <= 0 || p.ValidityDays <= 0 {
			return fmt.Errorf("catalog.credit_packages.%s: price, credits and validity_days must be positive", id)
		}
	}
	return nil
}

// resolveKeyFiles loads *_file settings; inline values win.
func (c *Config) resolveKeyFiles() error {
	load := func(dst *string, path, field string) error {
		if *dst != "" || path == "" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", field, err)
		}
		*dst = string(b)
		return nil
	}
	if err := load(&c.Payment.WeChat.PrivateKey, c.Payment.WeChat.PrivateKeyFile, "payment.wechat.private_key_file"); err != nil {
		return err
	}
	if err := load(&c.Payment.WeChat.PlatformPublicKey, c.Payment.WeChat.PlatformKeyFile, "payment.wechat.platform_public_key_file"); err != nil {
		return err
	}
	if err := load(&c.Payment.Alipay.PrivateKey, c.Payment.Alipay.PrivateKeyFile, "payment.alipay.private_key_file"); err != nil {
		return err
	}
	return load(&c.Payment.Alipay.PublicKey, c.Payment.Alipay.PublicKeyFile, "payment.alipay.alipay_public_key_file")
}
