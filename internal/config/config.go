package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	AppPort  string
	LogLevel string

	DBDriver   string
	SQLitePath string
	MySQLHost  string
	MySQLPort  string
	MySQLDB    string
	MySQLUser  string
	MySQLPass  string

	RedisAddr string
	RedisDB   int

	IdempTTLSecs int

	OracleURL        string
	OracleMaxAgeSecs int
	GatewayURL       string
	GatewayKey       string
	RiskURL          string
	HTTPTimeoutSecs  int
	PlanCatalogPath  string

	SweepEnabled  bool
	SweepSchedule string

	PollerEnabled         bool
	PollerRPCURL          string
	PollerContract        string
	PollerABIPath         string
	PollerPrivateKey      string
	PollerBorrowers       []string
	PollerIntervalSecs    int
	PollerThreshold       decimal.Decimal
	PollerCallTimeoutSecs int
	PollerGasLimit        uint64
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getint(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func getbool(k string, d bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() *Config {
	c := &Config{
		AppPort:  getenv("APP_PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(getenv("DB_DRIVER", "mysql")),
		SQLitePath: getenv("SQLITE_PATH", "bnpl.db"),
		MySQLHost:  getenv("MYSQL_HOST", "mysql"),
		MySQLPort:  getenv("MYSQL_PORT", "3306"),
		MySQLDB:    getenv("MYSQL_DB", "bnpl"),
		MySQLUser:  getenv("MYSQL_USER", "bnpl"),
		MySQLPass:  getenv("MYSQL_PASS", "bnpl"),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisDB:      getint("REDIS_DB", 0),
		IdempTTLSecs: getint("IDEMPOTENCY_TTL_SECONDS", 86400),

		OracleURL:        os.Getenv("ORACLE_URL"),
		OracleMaxAgeSecs: getint("ORACLE_MAX_AGE_SECONDS", 300),
		GatewayURL:       os.Getenv("GATEWAY_URL"),
		GatewayKey:       os.Getenv("GATEWAY_KEY"),
		RiskURL:          os.Getenv("RISK_URL"),
		HTTPTimeoutSecs:  getint("HTTP_CLIENT_TIMEOUT_SECONDS", 5),
		PlanCatalogPath:  os.Getenv("PLAN_CATALOG_PATH"),

		SweepEnabled:  getbool("SWEEP_ENABLED", true),
		SweepSchedule: getenv("SWEEP_SCHEDULE", "@every 15m"),

		PollerEnabled:         getbool("POLLER_ENABLED", false),
		PollerRPCURL:          os.Getenv("POLLER_RPC_URL"),
		PollerContract:        os.Getenv("POLLER_CONTRACT"),
		PollerABIPath:         os.Getenv("POLLER_ABI_PATH"),
		PollerPrivateKey:      os.Getenv("POLLER_PRIVATE_KEY"),
		PollerBorrowers:       splitList(os.Getenv("POLLER_BORROWERS")),
		PollerIntervalSecs:    getint("POLLER_INTERVAL_SECONDS", 30),
		PollerThreshold:       decimal.NewFromInt(1),
		PollerCallTimeoutSecs: getint("POLLER_CALL_TIMEOUT_SECONDS", 10),
		PollerGasLimit:        300000,
	}
	if v := os.Getenv("POLLER_THRESHOLD"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			c.PollerThreshold = d
		}
	}
	if v := os.Getenv("POLLER_GAS_LIMIT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.PollerGasLimit = n
		}
	}
	return c
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (mysql|sqlite)", c.DBDriver)
	}
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if c.IdempTTLSecs <= 0 {
		return fmt.Errorf("invalid IDEMPOTENCY_TTL_SECONDS %d", c.IdempTTLSecs)
	}
	if c.OracleMaxAgeSecs <= 0 {
		return fmt.Errorf("invalid ORACLE_MAX_AGE_SECONDS %d", c.OracleMaxAgeSecs)
	}
	if c.PollerEnabled {
		if !c.PollerConfigured() {
			return errors.New("POLLER_ENABLED needs POLLER_RPC_URL, POLLER_CONTRACT, POLLER_PRIVATE_KEY and POLLER_BORROWERS")
		}
		if c.PollerIntervalSecs <= 0 || c.PollerCallTimeoutSecs <= 0 {
			return errors.New("poller interval and call timeout must be positive")
		}
		if !c.PollerThreshold.IsPositive() {
			return fmt.Errorf("invalid POLLER_THRESHOLD %s", c.PollerThreshold)
		}
	}
	return nil
}

// PollerConfigured reports whether every setting the health poller needs is
// present. The ABI path is optional; the built-in ABI is used without it.
func (c *Config) PollerConfigured() bool {
	return c.PollerRPCURL != "" && c.PollerContract != "" && c.PollerPrivateKey != "" && len(c.PollerBorrowers) > 0
}

func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempTTLSecs) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&charset=utf8mb4,utf8&loc=UTC",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}
