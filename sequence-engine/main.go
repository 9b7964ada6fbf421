package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"k8s.io/utils/clock"

	"github.com/relaycrm/relay-go/internal/clients/delivery"
	"github.com/relaycrm/relay-go/internal/clients/generation"
	"github.com/relaycrm/relay-go/internal/engine"
	"github.com/relaycrm/relay-go/internal/failure"
	"github.com/relaycrm/relay-go/internal/platform/auditlog"
	"github.com/relaycrm/relay-go/internal/platform/auth"
	"github.com/relaycrm/relay-go/internal/platform/httpserver"
	"github.com/relaycrm/relay-go/internal/platform/objectstore"
	"github.com/relaycrm/relay-go/internal/platform/postgres"
	"github.com/relaycrm/relay-go/internal/platform/queue"
	pgrepo "github.com/relaycrm/relay-go/internal/repo/postgres"
)

// readinessTimeout bounds each dependency probe on /readyz.
const readinessTimeout = 750 * time.Millisecond

type cli struct {
	Serve   serveCmd   `cmd:"" default:"withargs" help:"Accept pushed job batches over HTTP."`
	Poll    pollCmd    `cmd:"" help:"Pull jobs from the queue on a schedule."`
	Drain   drainCmd   `cmd:"" help:"Process queued jobs until the queue is empty, then exit."`
	Enqueue enqueueCmd `cmd:"" help:"Validate job messages and put them on the queue."`
}

type serveCmd struct {
	Poll bool `help:"Also pull jobs from the queue while serving." env:"SEQUENCE_ENGINE_POLL_ENABLED"`
}

type pollCmd struct{}

type drainCmd struct {
	MaxBatches int `help:"Stop after this many batches." default:"100" env:"SEQUENCE_ENGINE_DRAIN_MAX_BATCHES"`
}

type enqueueCmd struct {
	File  string        `arg:"" optional:"" type:"existingfile" help:"JSON file with one message or an array of messages. Reads stdin when omitted."`
	Delay time.Duration `help:"Keep the messages hidden for this long." default:"0s"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	var cmd cli
	kctx := kong.Parse(&cmd,
		kong.Name(serviceName),
		kong.Description("Runs sequence execution jobs: content generation, email delivery and passive steps."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(logger),
	)
	err := kctx.Run()
	stop()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			logger.Error(exit.msg, "error", exit.err.Error())
			os.Exit(exit.code)
		}
		logger.Error("sequence engine failed", "error", err.Error())
		os.Exit(1)
	}
}

// exitError carries the process exit code: 2 for configuration problems, 1
// for unavailable dependencies.
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string { return fmt.Sprintf("%s: %v", e.msg, e.err) }
func (e *exitError) Unwrap() error { return e.err }

func configError(msg string, err error) error {
	return &exitError{code: 2, msg: msg, err: err}
}

func dependencyError(msg string, err error) error {
	return &exitError{code: 1, msg: msg, err: err}
}

func (c *serveCmd) Run(ctx context.Context, logger *slog.Logger) error {
	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		return configError("invalid http config", err)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return configError("invalid auth config", err)
	}
	var pollCfg pollConfig
	if c.Poll {
		if pollCfg, err = pollConfigFromEnv(); err != nil {
			return configError("invalid poll config", err)
		}
	}

	a, err := bootstrap(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	authenticator, err := auth.New(ctx, authCfg)
	if err != nil {
		return dependencyError("auth unavailable", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if c.Poll {
		wait, err := a.poller(pollCfg.BatchSize).Start(ctx, pollCfg.Schedule)
		if err != nil {
			cancel()
			return configError("invalid poll config", err)
		}
		defer wait()
	}
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, a.readinessChecks()...))
	newJobsAPI(logger, a.runner).register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.AllowSubjects(authCfg.AllowedSubjects),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, a.db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil {
		return dependencyError("server failed", err)
	}
	return nil
}

func (c *pollCmd) Run(ctx context.Context, logger *slog.Logger) error {
	pollCfg, err := pollConfigFromEnv()
	if err != nil {
		return configError("invalid poll config", err)
	}
	a, err := bootstrap(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	wait, err := a.poller(pollCfg.BatchSize).Start(ctx, pollCfg.Schedule)
	if err != nil {
		return configError("invalid poll config", err)
	}
	<-ctx.Done()
	wait()
	logger.Info("queue poller stopped")
	return nil
}

func (c *drainCmd) Run(ctx context.Context, logger *slog.Logger) error {
	if c.MaxBatches < 1 {
		return configError("invalid drain config", errors.New("--max-batches must be >= 1"))
	}
	pollCfg, err := pollConfigFromEnv()
	if err != nil {
		return configError("invalid poll config", err)
	}
	a, err := bootstrap(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.poller(pollCfg.BatchSize).Drain(ctx, c.MaxBatches)
	if err != nil {
		return dependencyError("drain failed", err)
	}
	logger.Info("queue drained", "messages", n)
	return nil
}

func (c *enqueueCmd) Run(ctx context.Context, logger *slog.Logger) error {
	if c.Delay < 0 {
		return configError("invalid enqueue arguments", errors.New("--delay must be >= 0"))
	}
	var raw []byte
	var err error
	if c.File != "" {
		raw, err = os.ReadFile(c.File)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return configError("read messages", err)
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return configError("invalid database config", err)
	}
	queueCfg, err := queue.ConfigFromEnv()
	if err != nil {
		return configError("invalid queue config", err)
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return dependencyError("database unavailable", err)
	}
	a := &app{logger: logger, db: db, queueCfg: queueCfg}
	defer a.close()
	if err := a.openQueue(ctx); err != nil {
		return err
	}

	ids, err := enqueueMessages(ctx, a.queue, raw, c.Delay)
	if len(ids) > 0 {
		logger.Info("messages enqueued", "queue", queueCfg.Name, "ids", ids, "delay", c.Delay.String())
	}
	if err != nil {
		if failure.Is(err, failure.KindValidation) {
			return configError("invalid messages", err)
		}
		return dependencyError("enqueue failed", err)
	}
	return nil
}

type app struct {
	logger   *slog.Logger
	db       *sql.DB
	redis    interface{ Close() error }
	queue    queue.Queue
	queueCfg queue.Config
	archive  *objectstore.ContentArchive
	runner   *engine.Runner
}

// bootstrap reads every dependency's config before opening any connection so
// configuration mistakes exit with code 2 without side effects.
func bootstrap(ctx context.Context, logger *slog.Logger) (*app, error) {
	engineCfg, err := engineConfigFromEnv()
	if err != nil {
		return nil, configError("invalid engine config", err)
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, configError("invalid database config", err)
	}
	queueCfg, err := queue.ConfigFromEnv()
	if err != nil {
		return nil, configError("invalid queue config", err)
	}
	genCfg, err := generation.ConfigFromEnv()
	if err != nil {
		return nil, configError("invalid generation config", err)
	}
	deliveryCfg, err := delivery.ConfigFromEnv()
	if err != nil {
		return nil, configError("invalid delivery config", err)
	}
	archiveCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, configError("invalid content archive config", err)
	}

	generator, err := generation.New(context.WithoutCancel(ctx), genCfg)
	if err != nil {
		return nil, configError("invalid generation config", err)
	}
	sender, err := delivery.New(deliveryCfg)
	if err != nil {
		return nil, configError("invalid delivery config", err)
	}

	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, dependencyError("database unavailable", err)
	}
	a := &app{logger: logger, db: db, queueCfg: queueCfg}

	if err := a.openQueue(ctx); err != nil {
		a.close()
		return nil, err
	}

	deps := engine.Dependencies{
		Executions: pgrepo.NewExecutionStore(db),
		Routing:    pgrepo.NewRoutingStore(db),
		Advancer:   pgrepo.NewMemberAdvancer(db),
		Generator:  generator,
		Sender:     sender,
		Acks:       a.queue,
		Audit:      auditlog.NewTransitionRecorder(db),
		Clock:      clock.RealClock{},
		Logger:     logger,
	}
	if archiveCfg.Enabled {
		archive, err := openArchive(ctx, archiveCfg)
		if err != nil {
			a.close()
			return nil, dependencyError("content archive unavailable", err)
		}
		a.archive = archive
		deps.Archive = archive
	}

	a.runner, err = engine.New(engineCfg, deps)
	if err != nil {
		a.close()
		return nil, configError("invalid engine config", err)
	}
	logger.Info("sequence engine ready",
		"queue_backend", string(queueCfg.Backend),
		"queue", queueCfg.Name,
		"max_retries", engineCfg.MaxRetries,
		"retry_permanent", engineCfg.RetryPermanent,
		"content_archive", archiveCfg.Enabled,
	)
	return a, nil
}

// openQueue connects the configured backend and checks that the queue exists.
func (a *app) openQueue(ctx context.Context) error {
	var err error
	switch a.queueCfg.Backend {
	case queue.BackendRedis:
		client := queue.NewRedisClient(a.queueCfg)
		a.redis = client
		a.queue, err = queue.NewRedis(client, a.queueCfg.Name, clock.RealClock{})
	default:
		a.queue, err = queue.NewPGMQ(a.db, a.queueCfg.Name)
	}
	if err != nil {
		return configError("invalid queue config", err)
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.queue.Check(checkCtx); err != nil {
		return dependencyError("queue unavailable", err)
	}
	return nil
}

func openArchive(ctx context.Context, cfg objectstore.Config) (*objectstore.ContentArchive, error) {
	client, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	archive, err := objectstore.NewContentArchive(client, cfg)
	if err != nil {
		return nil, err
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := archive.EnsureBucket(ensureCtx); err != nil {
		return nil, err
	}
	return archive, nil
}

func (a *app) poller(batchSize int) *poller {
	return &poller{
		logger:     a.logger,
		queue:      a.queue,
		runner:     a.runner,
		batchSize:  batchSize,
		visibility: a.queueCfg.VisibilityTimeout,
	}
}

func (a *app) readinessChecks() []httpserver.ReadinessCheck {
	checks := []httpserver.ReadinessCheck{
		{Name: "postgres", Check: httpserver.WithTimeout(readinessTimeout, a.db.PingContext)},
		{Name: "queue", Check: httpserver.WithTimeout(readinessTimeout, a.queue.Check)},
	}
	if a.archive != nil {
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "content_archive",
			Check: httpserver.WithTimeout(readinessTimeout, a.archive.Check),
		})
	}
	return checks
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", "error", err.Error())
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err.Error())
		}
	}
}
