package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Amazon  AmazonConfig
	Browser BrowserConfig
	Paths   PathsConfig
	Pacing  PacingConfig
	Store   StoreConfig
	Server  ServerConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

type AmazonConfig struct {
	Email     string
	Password  string
	BaseURL   string
	SignInURL string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	UserAgent      string
}

type PathsConfig struct {
	DataDir        string
	CookiesFile    string
	TopicsFile     string
	AffiliateLinks string
	ProductLinks   string
	Diagnostics    string
}

type PacingConfig struct {
	WaitTimeout     time.Duration
	TypingMin       time.Duration
	TypingMax       time.Duration
	NavigationMin   time.Duration
	NavigationMax   time.Duration
	ProductDelayMin time.Duration
	ProductDelayMax time.Duration
	ScrollSteps     int
}

type StoreConfig struct {
	Kind            string
	BaseURL         string
	CredentialsFile string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PostgresDSN     string
	LastItemPath    string
	ItemsPath       string
	AtomicAppend    bool
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// MetricsConfig names where batch runs export their metrics. Both sinks are
// off when empty.
type MetricsConfig struct {
	Dir     string
	PushURL string
	Job     string
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads the configuration from the environment after merging any .env
// files. Variables already set in the environment win over .env values.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	dataDir := getEnvOrDefault("DATA_DIR", "data")

	cfg := &Config{
		Amazon: AmazonConfig{
			Email:     os.Getenv("AMAZON_EMAIL"),
			Password:  os.Getenv("AMAZON_PASSWORD"),
			BaseURL:   getEnvOrDefault("AMAZON_BASE_URL", "https://www.amazon.com.br/"),
			SignInURL: os.Getenv("AMAZON_SIGNIN_URL"),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", false),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/Sao_Paulo"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "pt-BR"),
			ProxyServer:    os.Getenv("BROWSER_PROXY"),
			UserAgent:      os.Getenv("BROWSER_USER_AGENT"),
		},
		Paths: PathsConfig{
			DataDir:        dataDir,
			CookiesFile:    getEnvOrDefault("COOKIES_FILE", filepath.Join(dataDir, "cookies.json")),
			TopicsFile:     getEnvOrDefault("TOPICS_FILE", filepath.Join(dataDir, "bestseller_topics.txt")),
			AffiliateLinks: getEnvOrDefault("AFFILIATE_LINKS_FILE", filepath.Join(dataDir, "affiliate_links.txt")),
			ProductLinks:   getEnvOrDefault("PRODUCT_LINKS_FILE", filepath.Join(dataDir, "affiliate_links.txt")),
			Diagnostics:    getEnvOrDefault("DIAGNOSTICS_DIR", filepath.Join(dataDir, "screenshots")),
		},
		Pacing: PacingConfig{
			WaitTimeout:     getDurationOrDefault("WAIT_TIMEOUT", 20*time.Second),
			TypingMin:       getDurationOrDefault("TYPING_DELAY_MIN", 50*time.Millisecond),
			TypingMax:       getDurationOrDefault("TYPING_DELAY_MAX", 200*time.Millisecond),
			NavigationMin:   getDurationOrDefault("NAVIGATION_DELAY_MIN", 2*time.Second),
			NavigationMax:   getDurationOrDefault("NAVIGATION_DELAY_MAX", 4*time.Second),
			ProductDelayMin: getDurationOrDefault("PRODUCT_DELAY_MIN", 2*time.Second),
			ProductDelayMax: getDurationOrDefault("PRODUCT_DELAY_MAX", 5*time.Second),
			ScrollSteps:     getIntOrDefault("SCROLL_STEPS", 3),
		},
		Store: StoreConfig{
			Kind:            getEnvOrDefault("STORE_BACKEND", "firebase"),
			BaseURL:         os.Getenv("FIREBASE_DATABASE_URL"),
			CredentialsFile: getEnvOrDefault("FIREBASE_CREDENTIALS_FILE", filepath.Join(dataDir, "firebase-credentials.json")),
			RedisAddr:       getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword:   os.Getenv("REDIS_PASSWORD"),
			RedisDB:         getIntOrDefault("REDIS_DB", 0),
			RedisPrefix:     getEnvOrDefault("REDIS_PREFIX", "servant:"),
			PostgresDSN:     os.Getenv("DATABASE_URL"),
			LastItemPath:    getEnvOrDefault("STORE_LAST_ITEM_PATH", "/last_item"),
			ItemsPath:       getEnvOrDefault("STORE_ITEMS_PATH", "/itens"),
			AtomicAppend:    getBoolOrDefault("STORE_ATOMIC_APPEND", false),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
		Metrics: MetricsConfig{
			Dir:     os.Getenv("METRICS_TEXTFILE_DIR"),
			PushURL: os.Getenv("METRICS_PUSHGATEWAY_URL"),
			Job:     getEnvOrDefault("METRICS_JOB", "servant"),
		},
	}

	return cfg, nil
}

// loadEnvFiles loads the given .env files, or ./.env when none are named.
// A missing default file is not an error; a missing named file is.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// HasCredentials reports whether an interactive login is possible.
func (c *Config) HasCredentials() bool {
	return c.Amazon.Email != "" && c.Amazon.Password != ""
}

func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) Validate() error {
	if c.Amazon.BaseURL == "" {
		return fmt.Errorf("AMAZON_BASE_URL is required")
	}

	if c.Pacing.WaitTimeout <= 0 {
		return fmt.Errorf("WAIT_TIMEOUT must be positive")
	}

	if c.Pacing.TypingMin > c.Pacing.TypingMax {
		return fmt.Errorf("TYPING_DELAY_MIN cannot be greater than TYPING_DELAY_MAX")
	}

	if c.Pacing.NavigationMin > c.Pacing.NavigationMax {
		return fmt.Errorf("NAVIGATION_DELAY_MIN cannot be greater than NAVIGATION_DELAY_MAX")
	}

	if c.Pacing.ProductDelayMin > c.Pacing.ProductDelayMax {
		return fmt.Errorf("PRODUCT_DELAY_MIN cannot be greater than PRODUCT_DELAY_MAX")
	}

	if c.Pacing.ScrollSteps < 0 {
		return fmt.Errorf("SCROLL_STEPS cannot be negative")
	}

	switch c.Store.Kind {
	case "firebase", "redis", "postgres", "memory", "none":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Kind)
	}

	if c.Store.Kind == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %q", c.Server.Port)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
