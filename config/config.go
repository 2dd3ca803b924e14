package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 存储后端
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
	BackendMinio  = "minio"
)

// 报时点缺少音频时的处理策略
const (
	MissingAudioSkip   = "skip"
	MissingAudioSilent = "silent"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	// 键值存储
	StoreBackend string
	StoreFile    string // BackendFile 使用的 JSON 文件

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// MySQL (GORM) 配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int

	// 播放
	SampleRate   int           // 合成静音音频的采样率
	TickInterval time.Duration // 调度循环的节拍
	MissingAudio string        // skip | silent
	FetchTimeout time.Duration // 下载远程音频的超时
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() 不会覆盖已经存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv 只读取当前进程环境变量，不加载 .env
func FromEnv() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendFile)),
		StoreFile:    getEnv("STORE_FILE", "data/usefultimer.json"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "usefultimer:"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "usefultimer"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "usefultimer"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 28),

		SampleRate:   getEnvInt("SAMPLE_RATE", 44100),
		TickInterval: getEnvDuration("TICK_INTERVAL", 50*time.Millisecond),
		MissingAudio: strings.ToLower(getEnv("MISSING_AUDIO", MissingAudioSkip)),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendMySQL, BackendMinio:
	case BackendFile:
		if c.StoreFile == "" {
			return fmt.Errorf("STORE_FILE is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.MissingAudio != MissingAudioSkip && c.MissingAudio != MissingAudioSilent {
		return fmt.Errorf("MISSING_AUDIO must be %q or %q, got %q", MissingAudioSkip, MissingAudioSilent, c.MissingAudio)
	}
	return nil
}

// RedisAddr 返回 host:port 形式的 Redis 地址
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// MySQLDSN 返回 GORM mysql 驱动使用的 DSN
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
