package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	StoreBackend string // mysql|memory
	MySQLDSN     string

	CacheBackend string // redis|memory
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	CacheTTL     time.Duration
	EagerRefresh bool

	CaptchaURL      string
	CaptchaSecret   string
	CaptchaAttempts int
	CaptchaRPS      int

	DupWindow      time.Duration
	DupMaxDistance int
	// DupMinSimilarityPct is the term-set Jaccard score, in percent, that marks a duplicate.
	DupMinSimilarityPct int
	ProfanityThreshold  int
	PhoneRegion         string
	ReviewPolicy        string
	DistributedLock     bool

	AdminToken   string
	BrokerIDs    []string
	ReaggWorkers int
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-integer config value")
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),

		StoreBackend: strings.ToLower(env("STORE_BACKEND", "mysql")),
		MySQLDSN:     env("MYSQL_DSN", "root:root@tcp(localhost:3306)/reviews?parseTime=true&charset=utf8mb4&loc=UTC"),

		CacheBackend: strings.ToLower(env("CACHE_BACKEND", "redis")),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		RedisPass:    env("REDIS_PASSWORD", ""),
		RedisDB:      atoi("REDIS_DB", 0),
		CacheTTL:     time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		EagerRefresh: boolean("CACHE_EAGER_REFRESH", false),

		CaptchaURL:      env("CAPTCHA_VERIFY_URL", "https://hcaptcha.com/siteverify"),
		CaptchaSecret:   env("CAPTCHA_SECRET", ""),
		CaptchaAttempts: atoi("CAPTCHA_ATTEMPTS", 2),
		CaptchaRPS:      atoi("CAPTCHA_RPS", 20),

		DupWindow:           time.Duration(atoi("DUP_WINDOW_DAYS", 30)) * 24 * time.Hour,
		DupMaxDistance:      atoi("DUP_MAX_DISTANCE", 3),
		DupMinSimilarityPct: atoi("DUP_MIN_SIMILARITY_PCT", 60),
		ProfanityThreshold:  atoi("PROFANITY_THRESHOLD", 5),
		PhoneRegion:         env("PHONE_REGION", ""),
		ReviewPolicy:        env("REVIEW_POLICY", "auto"),
		DistributedLock:     boolean("DISTRIBUTED_LOCK", false),

		AdminToken:   env("ADMIN_TOKEN", ""),
		BrokerIDs:    BrokerIDs(os.Getenv("BROKER_IDS")),
		ReaggWorkers: atoi("REAGG_WORKERS", 8),
	}
	if c.CaptchaSecret == "" {
		log.Warn().Msg("CAPTCHA_SECRET is empty")
	}
	if c.AdminToken == "" {
		log.Warn().Msg("ADMIN_TOKEN is empty; admin routes are locked")
	}
	if c.DistributedLock && c.CacheBackend != "redis" {
		log.Warn().Msg("DISTRIBUTED_LOCK needs CACHE_BACKEND=redis; using in-process locks only")
		c.DistributedLock = false
	}
	return c
}

// BrokerIDs splits a comma or whitespace separated list, dropping blanks and repeats.
func BrokerIDs(s string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' }) {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func boolean(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
