package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/afero"

	"github.com/Tener/ggp-aps/internal/cfg"
	"github.com/Tener/ggp-aps/internal/cryptoutil"
	"github.com/Tener/ggp-aps/internal/gamerepo"
	"github.com/Tener/ggp-aps/internal/health"
	"github.com/Tener/ggp-aps/internal/httpmw"
	"github.com/Tener/ggp-aps/internal/httpserver"
	"github.com/Tener/ggp-aps/internal/log"
	"github.com/Tener/ggp-aps/internal/metrics"
	"github.com/Tener/ggp-aps/internal/opshttp"
	"github.com/Tener/ggp-aps/internal/otelx"
	"github.com/Tener/ggp-aps/internal/prof"
	"github.com/Tener/ggp-aps/internal/ratelimit"
	"github.com/Tener/ggp-aps/internal/repohandler"
	"github.com/Tener/ggp-aps/internal/repohttp"
	"github.com/Tener/ggp-aps/internal/storesync"
	"github.com/Tener/ggp-aps/internal/storewatch"
	v "github.com/Tener/ggp-aps/internal/version"
	"github.com/Tener/ggp-aps/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "print version and build information and exit")

	conf, err := cfg.Load(flag.CommandLine, os.Args[1:], func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "flag error:", err)
		os.Exit(2)
	}
	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	L, err := log.New(log.Options{
		App:               v.App,
		Component:         "server",
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stLvl,
		JSON:              conf.LogJSON,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		MaxErrorLinks:     conf.MaxErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer func() { _ = L.Sync() }()
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"store_root", conf.StoreRoot,
		"namespace", conf.Namespace,
		"http_port", conf.HTTPPort,
		"port_search", conf.PortSearch,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_store_sync", conf.EnableStoreSync,
		"enable_store_watch", conf.EnableStoreWatch,
		"rate_limit_rps", conf.RateLimitRPS,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, "server", &vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		// profiling is never worth refusing to serve over
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// collector runs on localhost, so no TLS
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.App,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	storeRoot, err := filepath.Abs(conf.StoreRoot)
	if err != nil {
		L.Error(ctx, xerrors.Wrap(err, "resolve store root"), "invalid store root", "store_root", conf.StoreRoot)
		os.Exit(1)
	}

	// a synced bundle replaces the local tree as the store root
	var storeInfo httpmw.StoreInfo
	if conf.EnableStoreSync {
		res, err := syncStore(ctx, L, conf, m, storeRoot)
		if err != nil {
			L.Error(ctx, err, "store sync failed", "ssm_param", conf.StoreSSMParam, "bucket", conf.StoreS3Bucket)
			os.Exit(1)
		}
		storeRoot = res.Dir
		storeInfo = res
		m.SetStore("s3", res.Hash, res.LoadedAt)
	} else {
		m.SetStore("local", "", time.Now())
	}

	ln, err := httpserver.Listen(ctx, conf.HTTPPort, conf.PortSearch)
	if err != nil {
		L.Error(ctx, err, "failed to bind resource listener", "http_port", conf.HTTPPort, "port_search", conf.PortSearch)
		os.Exit(1)
	}
	port := httpserver.Port(ln)
	if port != conf.HTTPPort {
		L.Warn(ctx, "configured http port busy, using next free port", "http_port", conf.HTTPPort, "bound_port", port)
	}

	baseURL := conf.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	}

	osFs := afero.NewOsFs()
	storeFs := afero.NewBasePathFs(osFs, storeRoot)

	// the board interface path is relative to the store root, like every
	// other resource
	repo, err := gamerepo.New(gamerepo.Options{
		Logger:             L,
		Store:              storeFs,
		BaseURL:            baseURL,
		Namespace:          conf.Namespace,
		FragmentFS:         storeFs,
		BoardInterfacePath: conf.BoardInterfaceJS,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create game repository")
		os.Exit(1)
	}
	rh, err := repohandler.New(repohandler.Options{
		Logger:   L,
		Repo:     repo,
		Outcomes: m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create repository handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.StoreDir(osFs, filepath.Join(storeRoot, filepath.FromSlash(conf.Namespace))),
	)

	var rateLimitMW func(next http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// once per client until its bucket is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "client.address", ip)
			}),
			ratelimit.WithOnCapacity(func(ip string) {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new clients until some are evicted", "client.address", ip)
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	stopHTTP := httpserver.Serve(ctx, ln, &httpserver.Options{
		Logger:       L,
		Routes:       repohttp.New(rh, repo.Namespace()).RegisterRoutes,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		StoreInfo:    storeInfo,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	defer func() { _ = stopHTTP(context.Background()) }()

	L.Info(ctx, "serving game resources",
		"base_url", baseURL,
		"store_root", storeRoot,
		"store_hash", storeHash(storeInfo),
	)

	// admin listener: metrics, probes and optional pprof
	stopOps := func(context.Context) error { return nil }
	if conf.AdminPort != 0 {
		stopOps, err = opshttp.Start(ctx, L, opshttp.Options{
			Port:         conf.AdminPort,
			Metrics:      m.Handler(),
			EnablePprof:  conf.EnablePprof,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			os.Exit(1)
		}
	}
	defer func() { _ = stopOps(context.Background()) }()

	if conf.EnableStoreWatch {
		w, err := storewatch.Start(ctx, storewatch.Options{
			Logger:   L,
			Root:     storeRoot,
			OnChange: m.IncStoreModification,
		})
		if err != nil {
			// serving works without the watch, it only reports tampering
			L.Warn(ctx, "store watch unavailable", "err", err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd readiness not sent", "reason", err)
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	drain(L, &gate, conf.DrainPeriod)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := stopHTTP(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := stopOps(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// syncStore downloads the bundle named in SSM, verifying it against KMS
// when a signing key is configured, and extracts it under storeRoot.
func syncStore(ctx context.Context, L log.Logger, conf cfg.App, m *metrics.ServerMetrics, storeRoot string) (*storesync.Result, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}

	var verifier storesync.SignatureVerifier
	if conf.StoreSigningKeyARN != "" {
		verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.StoreSigningKeyARN)
	} else {
		L.Warn(ctx, "no store signing key configured, bundle signatures are not checked")
	}

	loader, err := storesync.NewLoader(storesync.Options{
		Logger:   L,
		SSMParam: conf.StoreSSMParam,
		S3Bucket: conf.StoreS3Bucket,
		S3Prefix: conf.StoreS3Prefix,
		Params:   ssm.NewFromConfig(awsCfg),
		Objects:  s3.NewFromConfig(awsCfg),
		Verifier: verifier,
		Recorder: m,
	})
	if err != nil {
		return nil, err
	}
	return loader.Sync(ctx, storeRoot)
}

// drain fails readiness so load balancers stop routing here, then waits out
// the drain period. A second signal skips the wait.
func drain(L log.Logger, gate *health.ShutdownGate, period time.Duration) {
	gate.Set("draining")
	if period <= 0 {
		return
	}
	L.Info(context.Background(), "draining before closing listeners", "period", period.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case <-time.After(period):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

func storeHash(info httpmw.StoreInfo) string {
	if info == nil {
		return ""
	}
	return info.StoreHash()
}

// notifySystemd sends READY=1 when started under systemd with Type=notify.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "dial systemd notify socket")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "write systemd notify")
	}
	return nil
}
