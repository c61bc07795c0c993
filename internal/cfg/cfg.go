package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Tener/ggp-aps/internal/log"
)

// EnvPrefix is prepended to the upper-cased flag name: -store-root is read
// from GGPREPO_STORE_ROOT.
const EnvPrefix = "GGPREPO_"

type App struct {
	// repository
	StoreRoot        string
	Namespace        string
	BoardInterfaceJS string
	BaseURL          string

	// listeners
	HTTPPort         int
	PortSearch       int
	AdminPort        int
	TrustedProxyHops int
	DrainPeriod      time.Duration

	// logging
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// observability
	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	// abuse limits
	RateLimitRPS   float64
	RateLimitBurst int

	// store seeding and watching
	EnableStoreSync    bool
	StoreSSMParam      string
	StoreS3Bucket      string
	StoreS3Prefix      string
	StoreSigningKeyARN string
	EnableStoreWatch   bool
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.StoreRoot, "store-root", ".", "directory containing the namespace tree, e.g. ./games/ (a synced bundle is extracted below it)")
	fs.StringVar(&c.Namespace, "namespace", "/games/", "versioned subtree, with leading and trailing slash")
	fs.StringVar(&c.BoardInterfaceJS, "board-interface-js", "games/resources/scripts/BoardInterface.js", "shared script substituted for [BOARD_INTERFACE_JS]")
	fs.StringVar(&c.BaseURL, "base-url", "", "externally visible root injected into stylesheets (default http://127.0.0.1:<bound port>)")

	fs.IntVar(&c.HTTPPort, "http-port", 9140, "first TCP port tried for the resource listener")
	fs.IntVar(&c.PortSearch, "port-search", 1024, "successive ports tried when http-port is taken (1 = no search)")
	fs.IntVar(&c.AdminPort, "admin-port", 9100, "admin listen TCP port, 0 disables the admin listener")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the server whose X-Forwarded-For is trusted")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 5*time.Second, "time between failing readiness and closing listeners on shutdown")

	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "serve pprof on the admin port")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export OTLP traces to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.05, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) for pyro-server")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 50, "per client IP refill rate, 0 disables rate limiting")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 200, "per client IP burst")

	fs.BoolVar(&c.EnableStoreSync, "enable-store-sync", false, "download the resource bundle named by store-ssm-param before serving")
	fs.StringVar(&c.StoreSSMParam, "store-ssm-param", "", "ssm parameter holding the current bundle sha256")
	fs.StringVar(&c.StoreS3Bucket, "store-s3-bucket", "", "s3 bucket holding resource bundles")
	fs.StringVar(&c.StoreS3Prefix, "store-s3-prefix", "ggp/bundles", "s3 key prefix of <sha256>.tar.gz bundles")
	fs.StringVar(&c.StoreSigningKeyARN, "store-signing-key-arn", "", "KMS key ARN verifying <bundle>.sig, empty skips verification")
	fs.BoolVar(&c.EnableStoreWatch, "enable-store-watch", true, "log any change made to the store while serving")
}

// FillFromEnv sets every flag not passed on the command line from
// PREFIX_FLAG_NAME. Precedence: cli flag > env var > default. Invalid env
// values are reported through logf and leave the default in place.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, val); err != nil {
			_ = fs.Set(f.Name, prev)
			logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
		}
	})
}

// EnvKey maps flag "store-root" to PREFIX + "STORE_ROOT".
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Load registers, parses args and applies the environment.
func Load(fs *flag.FlagSet, args []string, logf func(string, ...any)) (App, error) {
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	FillFromEnv(fs, EnvPrefix, logf)
	return c, nil
}

// Validate reports every invalid field at once.
func Validate(c App) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.StoreRoot) == "" {
		add("STORE_ROOT is required")
	}
	if !strings.HasPrefix(c.Namespace, "/") || !strings.HasSuffix(c.Namespace, "/") || len(c.Namespace) < 3 {
		add("NAMESPACE must look like /name/ (got %q)", c.Namespace)
	}
	if c.BoardInterfaceJS == "" {
		add("BOARD_INTERFACE_JS is required")
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("BASE_URL must be an http(s) URL (got %q)", c.BaseURL)
		}
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		add("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	}
	if c.PortSearch < 1 || c.PortSearch > 65535 {
		add("invalid PORT_SEARCH %d (must be 1..65535)", c.PortSearch)
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		add("invalid ADMIN_PORT %d (must be 0..65535)", c.AdminPort)
	}
	if c.AdminPort != 0 && c.AdminPort >= c.HTTPPort && c.AdminPort < c.HTTPPort+c.PortSearch {
		add("ADMIN_PORT %d falls inside the HTTP port search range [%d, %d)", c.AdminPort, c.HTTPPort, c.HTTPPort+c.PortSearch)
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 16 {
		add("TRUSTED_PROXY_HOPS must be 0..16 (got %d)", c.TrustedProxyHops)
	}
	if c.DrainPeriod < 0 || c.DrainPeriod > 5*time.Minute {
		add("DRAIN_PERIOD must be 0..5m (got %s)", c.DrainPeriod)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		add("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			add("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err)
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		add("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		add("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	}
	if c.EnableTracing {
		// the grpc exporter wants host:port, no scheme
		if c.OTLPEndpoint == "" {
			add("OTLP_ENDPOINT required when ENABLE_TRACING=true")
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			add("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
		}
	}
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			add("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer)
		}
		if c.PyroTenantID == "" {
			add("PYRO_TENANT required when ENABLE_PYROSCOPE=true")
		}
	}

	if c.RateLimitRPS < 0 {
		add("RATE_LIMIT_RPS must not be negative (got %v)", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		add("RATE_LIMIT_BURST must be at least 1 when rate limiting is on (got %d)", c.RateLimitBurst)
	}

	if c.EnableStoreSync {
		if c.StoreSSMParam == "" {
			add("STORE_SSM_PARAM required when ENABLE_STORE_SYNC=true")
		}
		if c.StoreS3Bucket == "" {
			add("STORE_S3_BUCKET required when ENABLE_STORE_SYNC=true")
		}
		if c.StoreS3Prefix == "" {
			add("STORE_S3_PREFIX required when ENABLE_STORE_SYNC=true")
		}
	}

	return errors.Join(errs...)
}
