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

	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/props"
)

// EnvPrefix is prepended to flag names when filling from the environment.
const EnvPrefix = "HDRGUARD_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	DrainDelay        time.Duration

	Upstream         string
	TrustedProxyHops int
	MaxBodyBytes     int64
	RateLimit        float64
	RateBurst        int

	DescriptorFile          string
	DescriptorS3URI         string
	DescriptorSigningKeyARN string
	SSMPath                 string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	RedisKey                string
	PollInterval            time.Duration
	StaleThreshold          time.Duration
	Properties              props.Assignments
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.DrainDelay, "drain-delay", 60*time.Second, "how long to fail readiness before closing listeners on shutdown")

	fs.StringVar(&c.Upstream, "upstream", "", "upstream base URL to proxy to (empty: answer 404 for non-probe paths)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of this server whose X-Forwarded-For entries are trusted (0..10)")
	fs.Int64Var(&c.MaxBodyBytes, "max-body-bytes", 10<<20, "max request body size forwarded upstream (<0 disables)")
	fs.Float64Var(&c.RateLimit, "rate-limit", 10, "per client IP requests/second (0 disables)")
	fs.IntVar(&c.RateBurst, "rate-burst", 30, "per client IP burst size")

	fs.StringVar(&c.DescriptorFile, "descriptor-file", "", "deployment descriptor (.yaml, .yml, .json, .toml, .env) with policy properties, reloaded on change")
	fs.StringVar(&c.DescriptorS3URI, "descriptor-s3-uri", "", "s3://bucket/key of a deployment descriptor polled for changes")
	fs.StringVar(&c.DescriptorSigningKeyARN, "descriptor-signing-key-arn", "", "KMS key ARN verifying <descriptor>.sig (s3 descriptor only)")
	fs.StringVar(&c.SSMPath, "ssm-path", "", "ssm parameter path holding policy properties (e.g. /app/headerguard/policy)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port holding policy properties")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis database number")
	fs.StringVar(&c.RedisKey, "redis-key", "headerguard:policy", "redis hash with policy properties")
	fs.DurationVar(&c.PollInterval, "poll-interval", props.DefaultPollInterval, "remote property source poll interval")
	fs.DurationVar(&c.StaleThreshold, "stale-threshold", 30*time.Minute, "mark a remote property source stale after this long without a successful poll")
	fs.Var(&c.Properties, "D", "runtime property key=value (repeatable), e.g. -D policy=DENY")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		if _, repeatable := f.Value.(*props.Assignments); repeatable {
			return
		}
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.DrainDelay < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_DELAY must be >= 0 (got %s)", c.DrainDelay))
	}

	// Edge
	if c.Upstream != "" {
		if u, err := url.Parse(c.Upstream); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM must be an http(s) URL (got %q)", c.Upstream))
		}
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..10 (got %d)", c.TrustedProxyHops))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be >= 0 (got %g)", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_BURST must be >= 1 when RATE_LIMIT is set (got %d)", c.RateBurst))
	}

	// Property sources
	if c.DescriptorFile != "" && c.DescriptorS3URI != "" {
		errs = append(errs, fmt.Errorf("DESCRIPTOR_FILE and DESCRIPTOR_S3_URI are mutually exclusive"))
	}
	if c.DescriptorFile != "" {
		if _, err := props.FormatFromPath(c.DescriptorFile); err != nil {
			errs = append(errs, fmt.Errorf("invalid DESCRIPTOR_FILE: %w", err))
		}
	}
	if c.DescriptorS3URI != "" {
		if _, _, err := props.ParseS3URI(c.DescriptorS3URI); err != nil {
			errs = append(errs, fmt.Errorf("invalid DESCRIPTOR_S3_URI: %w", err))
		}
	}
	if c.DescriptorSigningKeyARN != "" && c.DescriptorS3URI == "" {
		errs = append(errs, fmt.Errorf("DESCRIPTOR_SIGNING_KEY_ARN requires DESCRIPTOR_S3_URI"))
	}
	if c.SSMPath != "" && !strings.HasPrefix(c.SSMPath, "/") {
		errs = append(errs, fmt.Errorf("SSM_PATH must start with / (got %q)", c.SSMPath))
	}
	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisKey == "" {
			errs = append(errs, fmt.Errorf("REDIS_KEY required when REDIS_ADDR is set"))
		}
	}
	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be >= 1s (got %s)", c.PollInterval))
	}
	if c.StaleThreshold < c.PollInterval {
		errs = append(errs, fmt.Errorf("STALE_THRESHOLD %s must not be shorter than POLL_INTERVAL %s", c.StaleThreshold, c.PollInterval))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RemoteSources reports whether any polled property source is configured.
func (c App) RemoteSources() bool {
	return c.DescriptorS3URI != "" || c.SSMPath != "" || c.RedisAddr != ""
}
