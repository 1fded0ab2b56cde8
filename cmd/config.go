package cmd

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/websecurify/proxify/logging"
)

// EnvPrefix is the prefix of environment variables that configure commands.
// PROXIFY_CA_CERT sets the "ca-cert" option, for example.
const EnvPrefix = "PROXIFY_"

// Config holds configuration values for commands.
type Config struct {
	Addr             string        `koanf:"addr"`
	CACertificate    string        `koanf:"ca-cert"`
	CAKey            string        `koanf:"ca-key"`
	CAName           string        `koanf:"ca-name"`
	KeyLength        int           `koanf:"key-length"`
	Transparent      bool          `koanf:"transparent"`
	ProxyProtocol    bool          `koanf:"proxy-protocol"`
	RedisAddress     string        `koanf:"redis-addr"`
	RedisPassword    string        `koanf:"redis-password"`
	LogLevel         string        `koanf:"log-level"`
	ShutdownTimeout  time.Duration `koanf:"shutdown-timeout"`
	CheckTimeout     time.Duration `koanf:"check-timeout"`
	InsecureUpstream bool          `koanf:"insecure-upstream"`
	CABundles        []string      `koanf:"ca-bundle"`
	MinTLSVersion    string        `koanf:"tls-min-version"`
	MaxTLSVersion    string        `koanf:"tls-max-version"`
	CipherSuite      string        `koanf:"tls-cipher-suite"`
}

// NewFlagSet returns the command-line flags understood by LoadConfig(), with
// their default values.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)

	flags.String("addr", ":8080", "address to listen on")
	flags.String("ca-cert", "", "PEM file containing the root certificate, created if it does not exist")
	flags.String("ca-key", "", "PEM file containing the root private key, created if it does not exist")
	flags.String("ca-name", "Proxify CA", "common name of a newly issued root certificate")
	flags.Int("key-length", 2048, "RSA key length of issued certificates")
	flags.Bool("transparent", false, "accept requests without an absolute URL, using the Host header")
	flags.Bool("proxy-protocol", false, "expect a PROXY protocol header on each connection")
	flags.String("redis-addr", "", "redis server used to persist issued certificates")
	flags.String("redis-password", "", "redis password")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Duration("shutdown-timeout", 30*time.Second, "time allowed for active exchanges to finish on shutdown")
	flags.Duration("check-timeout", 500*time.Millisecond, "timeout of the health check")
	flags.Bool("insecure-upstream", false, "do not verify the certificates of upstream servers")
	flags.StringSlice("ca-bundle", nil, "PEM files of additional CAs trusted for upstream servers")
	flags.String("tls-min-version", "", "minimum TLS version offered to clients of intercepted tunnels")
	flags.String("tls-max-version", "", "maximum TLS version offered to clients of intercepted tunnels")
	flags.String("tls-cipher-suite", "", "colon separated cipher suites offered to clients of intercepted tunnels")

	return flags
}

// LoadConfig builds a Config from PROXIFY_ environment variables and the
// command-line arguments in args. Flags take precedence over the environment.
func LoadConfig(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("unable to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("unable to load flags: %w", err)
	}

	config := &Config{}
	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// envKey maps PROXIFY_REDIS_ADDR to "redis-addr".
func envKey(s string) string {
	return strings.Replace(
		strings.ToLower(strings.TrimPrefix(s, EnvPrefix)),
		"_",
		"-",
		-1,
	)
}

// Level returns the configured log level.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}

	return logrus.ParseLevel(c.LogLevel)
}

// TLSConfig returns the base TLS configuration of the terminators that decrypt
// intercepted tunnels.
func (c *Config) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:   parseTLSVersion(c.MinTLSVersion),
		MaxVersion:   parseTLSVersion(c.MaxTLSVersion),
		CipherSuites: parseTLSCiphers(c.CipherSuite),
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
			tls.CurveP521,
		},
	}
}

// UpstreamTLSConfig returns the TLS configuration used to connect to upstream
// HTTPS servers.
func (c *Config) UpstreamTLSConfig(logger logrus.FieldLogger) (*tls.Config, error) {
	pool, err := c.rootCAPool(logger)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:            pool,
		InsecureSkipVerify: c.InsecureUpstream, // nolint:gosec
	}, nil
}

// rootCAPool returns the system certificate pool, plus the certificates in
// the configured CA bundles. Bundles that do not exist are skipped.
func (c *Config) rootCAPool(logger logrus.FieldLogger) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	for _, filename := range splitList(c.CABundles) {
		buf, err := ioutil.ReadFile(filename)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		if !pool.AppendCertsFromPEM(buf) {
			return nil, fmt.Errorf("no certificates found in CA bundle at %s", filename)
		}

		logging.Default(logger).Infof("Loaded CA bundle at %s", filename)
	}

	return pool, nil
}

// splitList splits comma separated values, as given by environment
// variables.
func splitList(values []string) []string {
	var result []string

	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				result = append(result, s)
			}
		}
	}

	return result
}

func parseTLSVersion(value string) uint16 {
	switch strings.ToLower(value) {
	case "tlsv1.0", "v1.0", "1.0", "1_0":
		return tls.VersionTLS10
	case "tlsv1.1", "v1.1", "1.1", "1_1":
		return tls.VersionTLS11
	case "tlsv1.2", "v1.2", "1.2", "1_2":
		return tls.VersionTLS12
	case "tlsv1.3", "v1.3", "1.3", "1_3":
		return tls.VersionTLS13
	default:
		return 0
	}
}

func parseTLSCiphers(value string) []uint16 {
	if value == "" {
		return nil
	}

	var suites []uint16
	for _, name := range strings.Split(value, ":") {
		for _, suite := range tls.CipherSuites() {
			if strings.EqualFold(name, suite.Name) {
				suites = append(suites, suite.ID)
			}
		}
	}

	return suites
}
