package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/headerguard/internal/cfg"
	"github.com/keithlinneman/headerguard/internal/cryptoutil"
	"github.com/keithlinneman/headerguard/internal/headerpolicy"
	"github.com/keithlinneman/headerguard/internal/health"
	"github.com/keithlinneman/headerguard/internal/httpmw"
	"github.com/keithlinneman/headerguard/internal/httpserver"
	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/metrics"
	"github.com/keithlinneman/headerguard/internal/opshttp"
	"github.com/keithlinneman/headerguard/internal/otelx"
	"github.com/keithlinneman/headerguard/internal/prof"
	"github.com/keithlinneman/headerguard/internal/props"
	"github.com/keithlinneman/headerguard/internal/ratelimit"
	v "github.com/keithlinneman/headerguard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	seed, err := props.ParseAssignments(conf.Properties)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		stackLvl, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"upstream", conf.Upstream,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"rate_limit", conf.RateLimit,
		"descriptor_file", conf.DescriptorFile,
		"descriptor_s3_uri", conf.DescriptorS3URI,
		"descriptor_signed", conf.DescriptorSigningKeyARN != "",
		"ssm_path", conf.SSMPath,
		"redis_addr", conf.RedisAddr,
		"poll_interval", conf.PollInterval.String(),
		"runtime_properties", len(seed),
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
		Commit:    vi.Commit,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Property layers, highest precedence first:
	// runtime (-D, admin API) > descriptor (file or s3) > ssm > redis > env
	runtimeProps := props.NewRuntime(seed)
	sources := []props.Source{runtimeProps}
	var pollers []*props.Poller

	// remote sources must answer once before we serve, otherwise the edge
	// would run on defaults the operator never chose
	addPolled := func(name string, f props.Fetcher, onChange func(keys []string)) {
		snap := props.NewSnapshot(name)
		p := props.NewPoller(props.PollerOptions{
			Logger:         L,
			Fetcher:        f,
			Target:         snap,
			Interval:       conf.PollInterval,
			StaleThreshold: conf.StaleThreshold,
			Metrics:        m,
			OnChange:       onChange,
		})
		if err := p.PollOnce(ctx); err != nil {
			L.Error(ctx, err, "initial property poll failed", "source", f.Name())
			os.Exit(1)
		}
		L.Info(ctx, "loaded remote properties", "source", f.Name(), "keys", snap.Keys())
		sources = append(sources, snap)
		pollers = append(pollers, p)
	}

	if conf.DescriptorFile != "" {
		snap := props.NewSnapshot("descriptor")
		if err := props.WatchDescriptorFile(ctx, L, conf.DescriptorFile, snap, m.ObserveDescriptorReload); err != nil {
			L.Error(ctx, err, "failed to load property descriptor", "path", conf.DescriptorFile)
			os.Exit(1)
		}
		sources = append(sources, snap)
	}

	if conf.RemoteSources() {
		L.Info(ctx, "polling remote property sources", "interval", conf.PollInterval, "stale_threshold", conf.StaleThreshold)
		var awsCfg aws.Config
		if conf.DescriptorS3URI != "" || conf.SSMPath != "" {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				L.Error(ctx, err, "failed to load AWS config")
				os.Exit(1)
			}
		}

		if conf.DescriptorS3URI != "" {
			var verifier props.SignatureVerifier
			if conf.DescriptorSigningKeyARN != "" {
				verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.DescriptorSigningKeyARN)
			}
			d, err := props.NewS3Descriptor(props.S3DescriptorOptions{
				Client:   s3.NewFromConfig(awsCfg),
				URI:      conf.DescriptorS3URI,
				Verifier: verifier,
			})
			if err != nil {
				L.Error(ctx, err, "invalid s3 descriptor")
				os.Exit(1)
			}
			addPolled("descriptor", d, func(keys []string) {
				L.Info(ctx, "s3 property descriptor changed", "uri", conf.DescriptorS3URI, "sha256", d.Digest(), "keys", keys)
			})
		}

		if conf.SSMPath != "" {
			f, err := props.NewSSMFetcher(ssm.NewFromConfig(awsCfg), conf.SSMPath)
			if err != nil {
				L.Error(ctx, err, "invalid ssm property source")
				os.Exit(1)
			}
			addPolled("ssm", f, nil)
		}

		if conf.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     conf.RedisAddr,
				Password: conf.RedisPassword,
				DB:       conf.RedisDB,
			})
			defer rdb.Close()
			f, err := props.NewRedisFetcher(rdb, conf.RedisKey)
			if err != nil {
				L.Error(ctx, err, "invalid redis property source")
				os.Exit(1)
			}
			addPolled("redis", f, nil)
		}
	}

	sources = append(sources, &props.Env{Prefix: cfg.EnvPrefix})
	layered := props.NewLayered(sources...)

	if d, err := headerpolicy.Resolve(layered); err != nil {
		L.Error(ctx, err, "initial header policy resolution failed")
	} else {
		L.Info(ctx, "header policy active",
			"sources", layered.Sources(),
			"x_frame_options", d.SetFrameOptions,
			"policy", d.FrameOptions,
			"nosniff", d.SetContentTypeOptions,
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pollers {
		g.Go(func() error {
			if err := p.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// not ready while draining or while the provider cannot answer
	readiness := health.All(
		gate.Probe(),
		health.Named("properties", health.CheckFunc(func(context.Context) error {
			_, err := headerpolicy.Resolve(layered)
			return err
		})),
	)

	var rateMW func(next http.Handler) http.Handler
	if conf.RateLimit > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			// only log the first denial per visitor lifetime
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateMW = limiter.Middleware
	}

	var upstream *url.URL
	if conf.Upstream != "" {
		upstream, _ = url.Parse(conf.Upstream)
	}

	edgeStop, err := httpserver.Start(ctx, httpserver.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		Provider:       layered,
		PolicyObserver: m,
		Upstream:       upstream,
		Health:         health.Fixed(true, ""),
		Readiness:      readiness,
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
		MetricsMW:      m.Middleware,
		RateLimitMW:    rateMW,
		ClientIPOpts:   httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		MaxBodyBytes:   conf.MaxBodyBytes,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start edge http listener")
		os.Exit(1)
	}
	defer func() { _ = edgeStop(context.Background()) }()

	// admin listener also exposes runtime property writes, so it rejects
	// public peers and proxied requests in case the sg is ever misconfigured
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		Properties:   opshttp.NewPropertiesAPI(layered, runtimeProps, m, L),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	// fail readiness so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_delay", conf.DrainDelay.String())
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := edgeStop(shutdownCtx); err != nil {
		L.Error(bg, err, "edge http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := g.Wait(); err != nil {
		L.Error(bg, err, "property poller exited")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	L.Info(bg, "shutdown complete")
}

func notifySystemd() error {
	// set by systemd for Type=notify units
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
