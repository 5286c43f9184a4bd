package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host              string
	Port              int
	ReadTimeoutSec    int
	WriteTimeoutSec   int
	IdleTimeoutSec    int
	RequestTimeoutSec int
	MaxBodyMB         int
	MaxInFlight       int
}

type App struct {
	Name string
	Env  string
	URL  string // 前端地址，用于拼重置密码链接
	HTTP HTTP
}

type Rotate struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Log struct {
	Level  string
	JSON   bool
	Rotate Rotate
}

type JWT struct {
	Secret            string
	Issuer            string
	AccessTokenTTLMin int
	ResetTokenTTLMin  int
}

func (j JWT) AccessTTL() time.Duration { return time.Duration(j.AccessTokenTTLMin) * time.Minute }
func (j JWT) ResetTTL() time.Duration  { return time.Duration(j.ResetTokenTTLMin) * time.Minute }

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Cache struct {
	Prefix string
	TTLSec int
}

func (c Cache) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
}

type Hash struct {
	Cost int
}

type Mail struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	TLSMode  string
}

// Enabled 未配置 host 时只打日志不发信
func (m Mail) Enabled() bool { return m.Host != "" }

func (m Mail) FromHeader() string {
	if m.FromName == "" {
		return m.From
	}
	return fmt.Sprintf("%s <%s>", m.FromName, m.From)
}

type Upload struct {
	Dir      string // 为空时导入文件只在内存中处理
	MaxBytes int64
}

type Config struct {
	App    App
	Log    Log
	JWT    JWT
	DB     DB
	Redis  Redis `mapstructure:"redis"`
	Cache  Cache
	Hash   Hash
	Mail   Mail
	Upload Upload
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "entity-admin")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.url", "http://localhost:3000")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.readtimeoutsec", 15)
	v.SetDefault("app.http.writetimeoutsec", 30)
	v.SetDefault("app.http.idletimeoutsec", 60)
	v.SetDefault("app.http.requesttimeoutsec", 30)
	v.SetDefault("app.http.maxbodymb", 10)
	v.SetDefault("app.http.maxinflight", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.rotate.enable", false)
	v.SetDefault("log.rotate.filename", "logs/app.log")
	v.SetDefault("log.rotate.maxsizemb", 50)
	v.SetDefault("log.rotate.maxbackups", 5)
	v.SetDefault("log.rotate.maxagedays", 14)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "entity-admin")
	v.SetDefault("jwt.accesstokenttlmin", 60)
	v.SetDefault("jwt.resettokenttlmin", 15)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "entity-admin.db")
	v.SetDefault("db.maxopenconns", 20)
	v.SetDefault("db.maxidleconns", 5)
	v.SetDefault("db.connmaxlifetimemin", 30)
	v.SetDefault("db.automigrate", true)
	v.SetDefault("db.loglevel", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.prefix", "apiResponseCache")
	v.SetDefault("cache.ttlsec", 60)

	v.SetDefault("hash.cost", 10)

	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.user", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "no-reply@localhost")
	v.SetDefault("mail.fromname", "Entity Admin")
	v.SetDefault("mail.tlsmode", "auto")

	v.SetDefault("upload.dir", "")
	v.SetDefault("upload.maxbytes", 10<<20)
}

// Load 读取 YAML + APP_* 环境变量；文件不存在时只用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil || !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt.secret is required (APP_JWT_SECRET)")
	}
	return &c, nil
}

func MustLoad(path string) *Config {
	c, err := Load(path)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return c
}
