package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/admin"
	"sysaccess.org/internal/audit"
	"sysaccess.org/internal/auth"
	"sysaccess.org/internal/config"
	"sysaccess.org/internal/httpapi"
	"sysaccess.org/internal/notify"
	"sysaccess.org/internal/obs"
	"sysaccess.org/internal/store/pg"
	"sysaccess.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.InitTracing(ctx, cfg.ServiceName)
	if err != nil {
		return err
	}

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	var (
		store     access.Store
		directory access.UserStore
		roles     auth.RoleStore
		settings  notify.Chain
		writable  admin.SettingsStore
		auditLog  audit.Reader
		sinks     = []audit.Sink{audit.LogSink{}}
		readiness httpapi.ReadinessChecker
		db        *pg.Store
	)
	if cfg.PostgresDSN != "" {
		db, err = pg.Open(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store, directory, roles = db, db, db
		settings = append(settings, db)
		writable, auditLog = db, db
		sinks = append(sinks, db)
		readiness = httpapi.PingFunc(db.Ping)
	} else {
		mem := access.NewInMemory()
		store, directory, roles = mem, mem, mem
		memSettings, memAudit := notify.NewMemorySettings(), audit.NewMemorySink(0)
		settings = append(settings, memSettings)
		writable, auditLog = memSettings, memAudit
		sinks = append(sinks, memAudit)
		if err := seedBootstrapAdmin(ctx, mem, cfg.BootstrapAdmin); err != nil {
			return err
		}
		log.Warn("SYSACCESS_PG_DSN not set, using in-memory store", "bootstrap_admin", cfg.BootstrapAdmin)
	}
	if cfg.TemplatesFile != "" {
		file, err := notify.LoadTemplatesFile(cfg.TemplatesFile)
		if err != nil {
			return err
		}
		settings = append(settings, file)
	}
	settings = append(settings, notify.StaticSettings(notify.DefaultSettings()))

	recorder := audit.NewRecorder(sinks)

	var sink notify.Sink = notify.LogSink{}
	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err = notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaNotifyTopic})
		if err != nil {
			return err
		}
		sink = kafkaSink
	}
	dispatcher := notify.NewDispatcher(sink,
		notify.WithSettings(settings),
		notify.WithDirectory(directory),
		notify.WithFrom(cfg.SystemEmail),
		notify.WithICTEmail(cfg.ICTEmail),
	)

	events := stream.New()
	svc, err := access.NewService(store,
		access.WithDirectory(directory),
		access.WithAuditor(recorder),
		access.WithAnnouncer(dispatcher),
		access.WithEvents(events),
		access.WithOverdueAfter(cfg.OverdueAfter),
	)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokens(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	var (
		revocations auth.Revocations = auth.NewMemoryRevocations()
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = auth.NewRedisClient(ctx, auth.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		revocations = auth.NewRedisRevocations(redisClient)
	}
	assertions, err := auth.NewAssertions(cfg.IdPSecret, cfg.IdPMaxAge)
	if err != nil {
		return err
	}
	authn, err := auth.NewAuthenticator(directory, roles, tokens, assertions, revocations, recorder)
	if err != nil {
		return err
	}
	authn.SetMaintenance(cfg.Maintenance)

	api := httpapi.New(httpapi.Deps{
		Service:   svc,
		Auth:      authn,
		Roles:     auth.NewRoleService(roles, directory, recorder),
		Admin:     admin.NewService(directory, roles, auditLog, writable, recorder),
		Stream:    events,
		Readiness: readiness,
		Version:   version,
	}, httpapi.Options{
		RatePerSec:     cfg.RatePerSec,
		RateBurst:      cfg.RateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.Proxies(),
	})
	api.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	decisions := httpapi.NewGRPCServer(svc, authn, readiness)
	decisions.Register(grpcSrv)
	go decisions.WatchHealth(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("grpc listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop intake first, then drain async audit and mail queues.
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("notification queue not drained", "error", err)
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn("audit queue not drained", "error", err)
	}
	if kafkaSink != nil {
		_ = kafkaSink.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = shutdownTracing(shutdownCtx)
	log.Info("stopped")
	return err
}

// seedBootstrapAdmin gives an empty in-memory directory one super admin, the
// same account the postgres seed creates. It still needs an identity assertion to log in.
func seedBootstrapAdmin(ctx context.Context, mem *access.InMemory, id string) error {
	if id == "" {
		return nil
	}
	if err := mem.PutUser(ctx, access.User{ID: id, Name: "Administrator", Email: id + "@example.org", Active: true, Admin: true}); err != nil {
		return err
	}
	ra, err := access.NewRoleAssignment(id, access.RoleSuperAdmin, access.Scope{}, time.Now().UTC())
	if err != nil {
		return err
	}
	return mem.PutAssignment(ctx, ra)
}
