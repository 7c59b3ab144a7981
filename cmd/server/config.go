package main

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/willemschots/dreambig/internal/auth"
	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/email/postmark"
	"github.com/willemschots/dreambig/internal/krypto"
	"github.com/willemschots/dreambig/internal/ratelimit"
	"github.com/willemschots/dreambig/internal/web"
)

// httpConfig is the configuration for the HTTP server.
type httpConfig struct {
	addr            string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration
	server          web.ServerConfig
}

// securityConfig holds the keys and lifetimes of the tokens handed to clients.
type securityConfig struct {
	secretKey    krypto.Key
	jwtKey       krypto.Key
	accessExpiry time.Duration
	csrfExpiry   time.Duration
}

type dbConfig struct {
	file           string
	migrate        bool
	blindIndexSalt krypto.Key
	encryptionKeys []krypto.Key
}

type authConfig struct {
	workerTimeout   time.Duration
	cleanupInterval time.Duration
	reset           auth.ResetConfig
	verification    auth.VerificationConfig
}

type rateLimitConfig struct {
	strategy      ratelimit.Strategy
	redisAddr     string
	redisPassword krypto.Secret
	redisDB       int
	probeTimeout  time.Duration
}

type emailConfig struct {
	driver  string
	from    email.Address
	baseURL *url.URL
	// postmark is only used when driver is "postmark".
	postmark postmark.Settings
}

// config is the configuration for the server command.
type config struct {
	http      httpConfig
	security  securityConfig
	db        dbConfig
	auth      authConfig
	rateLimit rateLimitConfig
	email     emailConfig
}

const (
	emailDriverLog      = "log"
	emailDriverPostmark = "postmark"
)

// defaultConfig returns a config with sane default values.
func defaultConfig() config {
	return config{
		http: httpConfig{
			addr:            ":8888",
			readTimeout:     time.Second * 5,
			writeTimeout:    time.Second * 10,
			idleTimeout:     time.Second * 120,
			shutdownTimeout: time.Second * 15,
			server: web.ServerConfig{
				SecureCookie:        true,
				CSRFBeforeRateLimit: false,
				DefaultLimit:        60,
				DefaultWindow:       time.Minute,
			},
		},
		security: securityConfig{
			accessExpiry: 30 * time.Minute,
			csrfExpiry:   24 * time.Hour,
		},
		db: dbConfig{
			file:    "dreambig.db",
			migrate: true,
		},
		auth: authConfig{
			workerTimeout:   10 * time.Second,
			cleanupInterval: time.Hour,
			reset:           auth.DefaultResetConfig(),
			verification:    auth.DefaultVerificationConfig(),
		},
		rateLimit: rateLimitConfig{
			strategy:     ratelimit.StrategyAuto,
			redisAddr:    "localhost:6379",
			probeTimeout: 2 * time.Second,
		},
		email: emailConfig{
			driver:  emailDriverLog,
			baseURL: mustURL("http://localhost:8888"),
			postmark: postmark.Settings{
				APIURL:        mustURL("https://api.postmarkapp.com"),
				MessageStream: "outbound",
			},
		},
	}
}

// requiredKeys are the env variables without a default value.
var requiredKeys = []string{
	"SECRET_KEY",
	"JWT_KEY",
	"DB_BLIND_INDEX_SALT",
	"DB_ENCRYPTION_KEYS",
	"EMAIL_FROM",
}

// envMap maps environment variable names to fields in the config struct.
var envMap = map[string]func(v string, c *config) error{
	"HTTP_ADDR": func(v string, c *config) error {
		c.http.addr = v
		return nil
	},
	"HTTP_READ_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.readTimeout, 0, math.MaxInt64)
	},
	"HTTP_WRITE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.writeTimeout, 0, math.MaxInt64)
	},
	"HTTP_IDLE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.idleTimeout, 0, math.MaxInt64)
	},
	"HTTP_SHUTDOWN_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.http.shutdownTimeout, 0, math.MaxInt64)
	},
	"HTTP_SECURE_COOKIE": func(v string, c *config) error {
		return confBool(v, &c.http.server.SecureCookie)
	},
	"HTTP_CSRF_BEFORE_RATE_LIMIT": func(v string, c *config) error {
		return confBool(v, &c.http.server.CSRFBeforeRateLimit)
	},
	"SECRET_KEY": func(v string, c *config) error {
		return confKey(v, &c.security.secretKey)
	},
	"JWT_KEY": func(v string, c *config) error {
		return confKey(v, &c.security.jwtKey)
	},
	"JWT_ACCESS_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.security.accessExpiry, time.Minute, math.MaxInt64)
	},
	"CSRF_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.security.csrfExpiry, time.Minute, math.MaxInt64)
	},
	"DB_FILENAME": func(v string, c *config) error {
		if v == "" {
			return errors.New("must not be empty")
		}
		c.db.file = v
		return nil
	},
	"DB_MIGRATE": func(v string, c *config) error {
		return confBool(v, &c.db.migrate)
	},
	"DB_BLIND_INDEX_SALT": func(v string, c *config) error {
		return confKey(v, &c.db.blindIndexSalt)
	},
	"DB_ENCRYPTION_KEYS": func(v string, c *config) error {
		keys, err := confKeys(v)
		if err != nil {
			return err
		}
		c.db.encryptionKeys = keys
		return nil
	},
	"AUTH_WORKER_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.auth.workerTimeout, 0, math.MaxInt64)
	},
	"AUTH_CLEANUP_INTERVAL": func(v string, c *config) error {
		return confDuration(v, &c.auth.cleanupInterval, time.Second, math.MaxInt64)
	},
	"AUTH_RESET_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.reset.Expiry, time.Second, math.MaxInt64)
	},
	"AUTH_RESET_MAX_ATTEMPTS": func(v string, c *config) error {
		return confInt(v, &c.auth.reset.MaxAttempts, 1, math.MaxInt32)
	},
	"AUTH_VERIFICATION_EXPIRY": func(v string, c *config) error {
		return confDuration(v, &c.auth.verification.Expiry, time.Second, math.MaxInt64)
	},
	"AUTH_VERIFICATION_MAX_ATTEMPTS": func(v string, c *config) error {
		return confInt(v, &c.auth.verification.MaxAttempts, 1, math.MaxInt32)
	},
	"AUTH_RESEND_COOLDOWN": func(v string, c *config) error {
		return confDuration(v, &c.auth.verification.ResendCooldown, 0, math.MaxInt64)
	},
	"RATE_LIMIT_STRATEGY": func(v string, c *config) error {
		s, err := ratelimit.ParseStrategy(v)
		if err != nil {
			return err
		}
		c.rateLimit.strategy = s
		return nil
	},
	"RATE_LIMIT_DEFAULT_LIMIT": func(v string, c *config) error {
		return confInt(v, &c.http.server.DefaultLimit, 1, math.MaxInt32)
	},
	"RATE_LIMIT_DEFAULT_WINDOW": func(v string, c *config) error {
		return confDuration(v, &c.http.server.DefaultWindow, time.Second, math.MaxInt64)
	},
	"REDIS_ADDR": func(v string, c *config) error {
		if v == "" {
			return errors.New("must not be empty")
		}
		c.rateLimit.redisAddr = v
		return nil
	},
	"REDIS_PASSWORD": func(v string, c *config) error {
		c.rateLimit.redisPassword = krypto.NewSecret(v)
		return nil
	},
	"REDIS_DB": func(v string, c *config) error {
		return confInt(v, &c.rateLimit.redisDB, 0, 15)
	},
	"REDIS_PROBE_TIMEOUT": func(v string, c *config) error {
		return confDuration(v, &c.rateLimit.probeTimeout, time.Millisecond, math.MaxInt64)
	},
	"BASE_URL": func(v string, c *config) error {
		return confURL(v, &c.email.baseURL)
	},
	"EMAIL_FROM": func(v string, c *config) error {
		addr, err := email.ParseAddress(v)
		if err != nil {
			return err
		}
		c.email.from = addr
		return nil
	},
	"EMAIL_DRIVER": func(v string, c *config) error {
		if v != emailDriverLog && v != emailDriverPostmark {
			return fmt.Errorf("unknown driver %q, want %s or %s", v, emailDriverLog, emailDriverPostmark)
		}
		c.email.driver = v
		return nil
	},
	"POSTMARK_API_URL": func(v string, c *config) error {
		return confURL(v, &c.email.postmark.APIURL)
	},
	"POSTMARK_SERVER_TOKEN": func(v string, c *config) error {
		c.email.postmark.ServerToken = krypto.NewSecret(v)
		return nil
	},
	"POSTMARK_MESSAGE_STREAM": func(v string, c *config) error {
		c.email.postmark.MessageStream = v
		return nil
	},
}

// configFromEnv returns a config with values from the environment. It falls
// back to default values for any missing environment variables.
//
// It does a best effort to validate provided values, so that mistakes are
// caught ASAP. However, there is no guarantee that the returned config
// is valid and will work. All problems are reported at once.
func configFromEnv() (config, error) {
	c := defaultConfig()

	keys := make([]string, 0, len(envMap))
	for key := range envMap {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		val, ok := os.LookupEnv(key)
		if !ok {
			if slices.Contains(requiredKeys, key) {
				errs = append(errs, fmt.Errorf("missing env variable %s", key))
			}
			continue
		}

		if err := envMap[key](val, &c); err != nil {
			errs = append(errs, fmt.Errorf("invalid env variable %s: %w", key, err))
		}
	}

	if c.email.driver == emailDriverPostmark && len(c.email.postmark.ServerToken.SecretValue()) == 0 {
		errs = append(errs, errors.New("env variable POSTMARK_SERVER_TOKEN is required for the postmark email driver"))
	}

	return c, errors.Join(errs...)
}

// confDuration attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confDuration(v string, tgt *time.Duration, min, max time.Duration) error {
	dur, err := time.ParseDuration(v)
	if err != nil {
		return err
	}

	if dur < min || dur > max {
		return fmt.Errorf("duration %s not in range [%s, %s] (inclusive)", dur, min, max)
	}

	*tgt = dur

	return nil
}

// confInt attempts to parse v into tgt and checks if the result is in
// the provided range (inclusive).
func confInt(v string, tgt *int, min, max int) error {
	i, err := strconv.Atoi(v)
	if err != nil {
		return err
	}

	if i < min || i > max {
		return fmt.Errorf("%d not in range [%d, %d] (inclusive)", i, min, max)
	}

	*tgt = i

	return nil
}

func confBool(v string, tgt *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}

	*tgt = b

	return nil
}

func confKey(v string, tgt *krypto.Key) error {
	k, err := krypto.ParseKey(v)
	if err != nil {
		return err
	}

	*tgt = k

	return nil
}

// confKeys parses a comma separated list of at least one key.
func confKeys(v string) ([]krypto.Key, error) {
	if v == "" {
		return nil, errors.New("at least one key is required")
	}

	var keys []krypto.Key
	for raw := range strings.SplitSeq(v, ",") {
		k, err := krypto.ParseKey(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, nil
}

// confURL parses an absolute url.
func confURL(v string, tgt **url.URL) error {
	u, err := url.Parse(v)
	if err != nil {
		return err
	}

	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q must have a scheme and a host", v)
	}

	*tgt = u

	return nil
}

func mustURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}
