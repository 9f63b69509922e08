package cfg

import (
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true")
	}
	if c.EnablePyroscope || c.EnableTracing {
		t.Error("EnablePyroscope/EnableTracing: want false")
	}
	if c.Upstream != "" {
		t.Errorf("Upstream: want empty, got %q", c.Upstream)
	}
	if c.RateLimit != 10 || c.RateBurst != 30 {
		t.Errorf("rate: want 10/30, got %g/%d", c.RateLimit, c.RateBurst)
	}
	if c.PollInterval != 30*time.Second {
		t.Errorf("PollInterval: want 30s, got %s", c.PollInterval)
	}
	if c.RedisKey != "headerguard:policy" {
		t.Errorf("RedisKey: want %q, got %q", "headerguard:policy", c.RedisKey)
	}
	if len(c.Properties) != 0 {
		t.Errorf("Properties: want none, got %v", c.Properties)
	}
	if c.RemoteSources() {
		t.Error("RemoteSources: want false with defaults")
	}
	if err := Validate(c); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-http-port=9090",
		"-admin-port=9100",
		"-upstream=http://127.0.0.1:3000",
		"-trusted-proxy-hops=1",
		"-rate-limit=0",
		"-descriptor-s3-uri=s3://bucket/headerguard/policy.yaml",
		"-descriptor-signing-key-arn=arn:aws:kms:us-east-2:111122223333:key/abc",
		"-ssm-path=/app/headerguard/policy",
		"-redis-addr=redis:6379",
		"-poll-interval=10s",
		"-D", "policy=DENY",
		"-D", "xContentTypeShouldSetPolicy=false",
	})

	if c.LogJSON != false {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 9090 || c.AdminPort != 9100 {
		t.Errorf("ports: want 9090/9100, got %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.Upstream != "http://127.0.0.1:3000" {
		t.Errorf("Upstream: got %q", c.Upstream)
	}
	if c.TrustedProxyHops != 1 {
		t.Errorf("TrustedProxyHops: want 1, got %d", c.TrustedProxyHops)
	}
	if c.PollInterval != 10*time.Second {
		t.Errorf("PollInterval: want 10s, got %s", c.PollInterval)
	}
	if got := c.Properties.String(); got != "policy=DENY,xContentTypeShouldSetPolicy=false" {
		t.Errorf("Properties: got %q", got)
	}
	if !c.RemoteSources() {
		t.Error("RemoteSources: want true")
	}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestRegister_InvalidPropertyFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(strings.Builder))
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-D", "=DENY"}); err == nil {
		t.Fatal("expected parse error for property without key")
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"ENABLE_TRACING", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")
	t.Setenv(pfx+"UPSTREAM", "https://app.internal")
	t.Setenv(pfx+"DESCRIPTOR_FILE", "/etc/headerguard/policy.yaml")
	t.Setenv(pfx+"REDIS_ADDR", "redis:6379")
	t.Setenv(pfx+"POLL_INTERVAL", "1m")
	t.Setenv(pfx+"STALE_THRESHOLD", "1h")
	t.Setenv(pfx+"D", "policy=DENY")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON != false {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.EnableTracing != true || c.TraceSample != 0.25 || c.OTLPEndpoint != "otel:4317" {
		t.Errorf("tracing: got %v %f %q", c.EnableTracing, c.TraceSample, c.OTLPEndpoint)
	}
	if c.Upstream != "https://app.internal" {
		t.Errorf("Upstream: got %q", c.Upstream)
	}
	if c.DescriptorFile != "/etc/headerguard/policy.yaml" {
		t.Errorf("DescriptorFile: got %q", c.DescriptorFile)
	}
	if c.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr: got %q", c.RedisAddr)
	}
	if c.PollInterval != time.Minute || c.StaleThreshold != time.Hour {
		t.Errorf("poll: got %s/%s", c.PollInterval, c.StaleThreshold)
	}
	// runtime properties come from -D only; the env layer serves HDRGUARD_POLICY etc.
	if len(c.Properties) != 0 {
		t.Errorf("Properties: want none from env, got %v", c.Properties)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"UPSTREAM", "http://env-upstream:80")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-upstream=http://cli-upstream:80"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.Upstream != "http://cli-upstream:80" {
		t.Errorf("Upstream: want cli value, got %q", c.Upstream)
	}

	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080 (default), got %d", c.HTTPPort)
	}
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-descriptor-file=/etc/headerguard/policy.toml",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
		"-upstream=ftp://files",
		"-trusted-proxy-hops=-1",
		"-rate-limit=-5",
		"-descriptor-file=/etc/headerguard/policy.properties",
		"-descriptor-s3-uri=http://not-s3",
		"-ssm-path=relative/path",
		"-redis-addr=redis",
		"-redis-key=",
		"-poll-interval=10ms",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	for _, want := range []string{
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid STACKTRACE_LEVEL",
		"invalid TRACE_SAMPLE",
		"PYRO_SERVER must be a URL",
		"PYRO_TENANT required",
		"OTLP_ENDPOINT must be host:port",
		"MAX_ERROR_LINKS",
		"UPSTREAM must be an http(s) URL",
		"TRUSTED_PROXY_HOPS",
		"RATE_LIMIT must be >= 0",
		"mutually exclusive",
		"invalid DESCRIPTOR_FILE",
		"invalid DESCRIPTOR_S3_URI",
		"SSM_PATH must start with /",
		"REDIS_ADDR must be host:port",
		"REDIS_KEY required",
		"POLL_INTERVAL must be >= 1s",
	} {
		wantErrContains(t, err, want)
	}
}

func TestValidate_SigningKeyNeedsS3Descriptor(t *testing.T) {
	c := newTestConfig(t, []string{"-descriptor-signing-key-arn=arn:aws:kms:us-east-2:111122223333:key/abc"})
	wantErrContains(t, Validate(c), "DESCRIPTOR_SIGNING_KEY_ARN requires DESCRIPTOR_S3_URI")
}

func TestValidate_RateBurstRequiredWithRate(t *testing.T) {
	c := newTestConfig(t, []string{"-rate-burst=0"})
	wantErrContains(t, Validate(c), "RATE_BURST")

	c = newTestConfig(t, []string{"-rate-limit=0", "-rate-burst=0"})
	if err := Validate(c); err != nil {
		t.Fatalf("burst is ignored with rate limiting disabled: %v", err)
	}
}

func TestValidate_StaleThresholdNotBelowInterval(t *testing.T) {
	c := newTestConfig(t, []string{"-poll-interval=5m", "-stale-threshold=1m"})
	wantErrContains(t, Validate(c), "STALE_THRESHOLD")
}
