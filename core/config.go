package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName         string
		Build           string
		Env             string // DEV (local; default), TEST, QA, PROD
		Debug           bool
		TestMode        bool
		SecretKey       string
		WorkDir         string
		FrontendBaseURL string
		RollbarToken    string

		PasswordResetTimeoutDelta time.Duration

		Server   ServerConfig
		Database DatabaseConfig
		Redis    RedisConfig
		Email    EmailConfig
		Push     PushConfig
		Audit    SinkConfig
		Notify   SinkConfig
		Forms    FormsConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		SessionName               string
		DisableReqLogs            bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		InMemory      bool // skip postgres; used in DEV & TEST
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
		Disabled bool
	}

	EmailConfig struct {
		DefaultFromName    string
		DefaultFromAddress string
		SendgridAPIKey     string
	}

	PushConfig struct {
		Subscriber      string
		VAPIDPublicKey  string
		VAPIDPrivateKey string
		TTL             int
	}

	// FormsConfig bounds the server-side forms. Zero values disable the bounds.
	FormsConfig struct {
		IdleTimeout time.Duration
		MaxPerUser  int
	}

	// SinkConfig configures where audit entries or notification payloads are shipped.
	// An empty Endpoint means the in-process store is used.
	SinkConfig struct {
		Endpoint string
		APIKey   string
		Timeout  time.Duration
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.Email.DefaultFromName, Address: c.Email.DefaultFromAddress}
}

// NewConfig loads the application configuration from the environment.
// `.env.<env>` files found under <project root>/config are loaded first (if they exist).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Chuo")
	v.SetDefault("secretKey", "k3j!x9-cd4)uol#b%+pz2=vq8*hm1@e6w&ry7(tn5$fga0^si")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 5*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("server.sessionName", "chuo_session")
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "chuo")
	v.SetDefault("database.user", "chuo")
	v.SetDefault("database.password", "chuo")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.inMemory", false)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.disabled", false)

	v.SetDefault("email.defaultFromName", "Chuo")
	v.SetDefault("email.defaultFromAddress", "noreply@localhost")

	v.SetDefault("push.subscriber", "mailto:admin@localhost")
	v.SetDefault("push.ttl", 30)

	v.SetDefault("audit.timeout", 5*time.Second)
	v.SetDefault("notify.timeout", 5*time.Second)

	v.SetDefault("forms.idleTimeout", 30*time.Minute)
	v.SetDefault("forms.maxPerUser", 20)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.inMemory", true)
		v.SetDefault("redis.disabled", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		SecretKey:                 v.GetString("secretKey"),
		WorkDir:                   workDir,
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		RollbarToken:              v.GetString("rollbarToken"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ReadTimeout:               v.GetDuration("server.readTimeout"),
			WriteTimeout:              v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			SessionName:               v.GetString("server.sessionName"),
			DisableReqLogs:            v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			InMemory:      v.GetBool("database.inMemory"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Disabled: v.GetBool("redis.disabled"),
		},
		Email: EmailConfig{
			DefaultFromName:    v.GetString("email.defaultFromName"),
			DefaultFromAddress: v.GetString("email.defaultFromAddress"),
			SendgridAPIKey:     v.GetString("email.sendgridApiKey"),
		},
		Push: PushConfig{
			Subscriber:      v.GetString("push.subscriber"),
			VAPIDPublicKey:  v.GetString("push.vapidPublicKey"),
			VAPIDPrivateKey: v.GetString("push.vapidPrivateKey"),
			TTL:             v.GetInt("push.ttl"),
		},
		Audit: SinkConfig{
			Endpoint: v.GetString("audit.endpoint"),
			APIKey:   v.GetString("audit.apiKey"),
			Timeout:  v.GetDuration("audit.timeout"),
		},
		Notify: SinkConfig{
			Endpoint: v.GetString("notify.endpoint"),
			APIKey:   v.GetString("notify.apiKey"),
			Timeout:  v.GetDuration("notify.timeout"),
		},
		Forms: FormsConfig{
			IdleTimeout: v.GetDuration("forms.idleTimeout"),
			MaxPerUser:  v.GetInt("forms.maxPerUser"),
		},
	}
}
