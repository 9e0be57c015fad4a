package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/jumenclient/internal/logger"
)

const (
	defaultListenAddr     = "localhost:8585"
	defaultGatewayAddr    = "http://localhost:8000"
	defaultStoreDSN       = "sqlite://jumen.db"
	defaultLoggingLevel   = logger.LevelInfo
	defaultEnvironment    = logger.EnvProduction
	defaultRequestTimeout = 30 * time.Second
	defaultRefreshTimeout = 10 * time.Second
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address the local shell listens on. Keep it on loopback
	ListenAddr string

	// Base URL of the remote auth gateway
	GatewayAddr string

	// Durable store for the session keys: memory://, sqlite://, postgres://, redis://
	StoreDSN string

	// Environment
	Environment string

	// Timeout of a single gateway request
	RequestTimeout time.Duration

	// Upper bound for one refresh exchange shared by concurrent callers
	RefreshTimeout time.Duration

	// Client side limit of gateway requests per second. Zero disables limit
	GatewayRPS float64

	// Origins allowed to call the shell. Empty means same origin only
	CORSOrigins []string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		GatewayAddr:    defaultGatewayAddr,
		StoreDSN:       defaultStoreDSN,
		Environment:    defaultEnvironment,
		RequestTimeout: defaultRequestTimeout,
		RefreshTimeout: defaultRefreshTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setFloat := func(o *float64) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return err
			}
			*o = f
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			*o = (*o)[:0]
			for item := range strings.SplitSeq(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					*o = append(*o, item)
				}
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"LISTEN_ADDRESS":  setString(&c.ListenAddr),
		"GATEWAY_ADDRESS": setString(&c.GatewayAddr),
		"STORE_DSN":       setString(&c.StoreDSN),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"REQUEST_TIMEOUT": setDuration(&c.RequestTimeout),
		"REFRESH_TIMEOUT": setDuration(&c.RefreshTimeout),
		"GATEWAY_RPS":     setFloat(&c.GatewayRPS),
		"CORS_ORIGINS":    setList(&c.CORSOrigins),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("env %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("jumen", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Shell listen address")
	fs.StringVarP(&c.GatewayAddr, "gateway", "g", c.GatewayAddr, "Auth gateway base URL")
	fs.StringVarP(&c.StoreDSN, "store", "s", c.StoreDSN, "Session store DSN (memory://, sqlite://, postgres://, redis://)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Gateway request timeout")
	fs.DurationVar(&c.RefreshTimeout, "refresh-timeout", c.RefreshTimeout, "Token refresh timeout")
	fs.Float64Var(&c.GatewayRPS, "gateway-rps", c.GatewayRPS, "Gateway requests per second limit, 0 is unlimited")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "Allowed CORS origins")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}

	u, err := url.Parse(c.GatewayAddr)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("gateway address: %w", err))
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		errs = append(errs, fmt.Errorf("gateway address %q must be absolute http(s) URL", c.GatewayAddr))
	}

	if !strings.Contains(c.StoreDSN, "://") {
		errs = append(errs, fmt.Errorf("store dsn %q has no scheme", c.StoreDSN))
	}
	if c.Environment != logger.EnvDevelopment && c.Environment != logger.EnvProduction {
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.RequestTimeout <= 0 || c.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.GatewayRPS < 0 {
		errs = append(errs, errors.New("gateway rps must not be negative"))
	}

	return errors.Join(errs...)
}
