package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	PresenceRedis = "redis"
	PresenceBolt  = "bolt"
)

// Origins always accepted by the socket endpoint in addition to CLIENT_URL.
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:5174",
}

type Config struct {
	APIAddr   string
	AdminAddr string

	JWTSecret string
	JWTExpiry time.Duration

	PresenceBackend string
	RedisURL        string
	PresenceDB      string
	PresenceTimeout time.Duration

	NATSURL     string
	NATSSubject string

	MongoURI           string
	MongoDB            string
	VerifyParticipants bool

	AllowedOrigins []string

	LogLevel  string
	LogFormat string

	PingTimeout     time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	CallRingTimeout time.Duration
}

// Load reads configuration from the environment and, when path is set,
// from a YAML file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{
		APIAddr:            v.GetString("API_ADDR"),
		AdminAddr:          v.GetString("ADMIN_ADDR"),
		JWTSecret:          v.GetString("JWT_ACCESS_SECRET"),
		JWTExpiry:          v.GetDuration("JWT_ACCESS_EXPIRY"),
		PresenceBackend:    strings.ToLower(v.GetString("PRESENCE_BACKEND")),
		RedisURL:           v.GetString("REDIS_URL"),
		PresenceDB:         v.GetString("PRESENCE_DB"),
		PresenceTimeout:    v.GetDuration("PRESENCE_TIMEOUT"),
		NATSURL:            v.GetString("NATS_URL"),
		NATSSubject:        v.GetString("NATS_SUBJECT"),
		MongoURI:           v.GetString("MONGO_URI"),
		MongoDB:            v.GetString("MONGO_DB"),
		VerifyParticipants: v.GetBool("VERIFY_PARTICIPANTS"),
		AllowedOrigins:     origins(v.GetString("ALLOWED_ORIGINS"), v.GetString("CLIENT_URL")),
		LogLevel:           v.GetString("LOG_LEVEL"),
		LogFormat:          v.GetString("LOG_FORMAT"),
		PingTimeout:        v.GetDuration("PING_TIMEOUT"),
		SendBuffer:         v.GetInt("SEND_BUFFER"),
		MaxMessageBytes:    v.GetInt64("MAX_MESSAGE_BYTES"),
		CallRingTimeout:    v.GetDuration("CALL_RING_TIMEOUT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_ADDR", ":5000")
	v.SetDefault("ADMIN_ADDR", "localhost:5001")
	v.SetDefault("JWT_ACCESS_EXPIRY", "15m")
	v.SetDefault("PRESENCE_BACKEND", PresenceRedis)
	v.SetDefault("REDIS_URL", "redis://localhost:6379")
	v.SetDefault("PRESENCE_DB", "presence.db")
	v.SetDefault("PRESENCE_TIMEOUT", "500ms")
	v.SetDefault("NATS_SUBJECT", "vaani.relay")
	v.SetDefault("MONGO_DB", "vaani")
	v.SetDefault("VERIFY_PARTICIPANTS", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("PING_TIMEOUT", "60s")
	v.SetDefault("SEND_BUFFER", 256)
	v.SetDefault("MAX_MESSAGE_BYTES", 64<<10)
	v.SetDefault("CALL_RING_TIMEOUT", "60s")
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_ACCESS_SECRET is required")
	}

	if c.JWTExpiry <= 0 {
		return errors.New("JWT_ACCESS_EXPIRY must be greater than 0")
	}

	switch c.PresenceBackend {
	case PresenceRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis presence backend")
		}
	case PresenceBolt:
		if c.PresenceDB == "" {
			return errors.New("PRESENCE_DB is required for the bolt presence backend")
		}
	default:
		return errors.Errorf("unknown PRESENCE_BACKEND %q", c.PresenceBackend)
	}

	if c.PresenceTimeout <= 0 {
		return errors.New("PRESENCE_TIMEOUT must be greater than 0")
	}

	if c.VerifyParticipants && c.MongoURI == "" {
		return errors.New("VERIFY_PARTICIPANTS requires MONGO_URI")
	}

	if c.PingTimeout <= 0 {
		return errors.New("PING_TIMEOUT must be greater than 0")
	}

	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be greater than 0")
	}

	if c.MaxMessageBytes <= 0 {
		return errors.New("MAX_MESSAGE_BYTES must be greater than 0")
	}

	if c.CallRingTimeout <= 0 {
		return errors.New("CALL_RING_TIMEOUT must be greater than 0")
	}

	return nil
}

// origins returns the explicit ALLOWED_ORIGINS list when set, otherwise
// CLIENT_URL plus the local development origins.
func origins(explicit, clientURL string) []string {
	var out []string
	if explicit != "" {
		for _, o := range strings.Split(explicit, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
		return out
	}

	if clientURL != "" {
		out = append(out, clientURL)
	}
	return append(out, devOrigins...)
}
