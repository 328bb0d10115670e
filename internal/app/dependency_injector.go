package app

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/you-humble/apsplot/internal/domain"
	"github.com/you-humble/apsplot/internal/infra/aps"
	"github.com/you-humble/apsplot/internal/infra/config"
	"github.com/you-humble/apsplot/internal/infra/pdf"
	"github.com/you-humble/apsplot/internal/infra/queue"
	filestore "github.com/you-humble/apsplot/internal/infra/store/file"
	runstore "github.com/you-humble/apsplot/internal/infra/store/run"
	"github.com/you-humble/apsplot/internal/libs/mio"
	"github.com/you-humble/apsplot/internal/libs/natsq"
	"github.com/you-humble/apsplot/internal/libs/rediscli"
	"github.com/you-humble/apsplot/internal/poller"
	"github.com/you-humble/apsplot/internal/transport"
	"github.com/you-humble/apsplot/internal/usecase"
)

type runStore interface {
	usecase.RunJournal
	usecase.RunExpirer
}

type artifactStore interface {
	usecase.ArtifactStore
	usecase.ArtifactReader
	usecase.ArtifactCleaner
}

type eventConsumer interface {
	Run(ctx context.Context, handle queue.Handler) error
}

type dependencyInjector struct {
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger

	apsClient *aps.Client

	redis    *redis.Client
	runStore runStore

	artifacts artifactStore

	natsConn *nats.Conn
	js       nats.JetStreamContext
	events   usecase.EventPublisher

	inspector usecase.PDFInspector

	workflow *usecase.Workflow
	viewer   *usecase.Viewer
	runs     *usecase.Runs

	router     *mux.Router
	grpcServer *grpc.Server
	health     *health.Server

	closers []func(ctx context.Context) error
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: di.Config().SlogLevel(),
		}))
		slog.SetDefault(di.logger)
	}

	return di.logger
}

func (di *dependencyInjector) APSClient() *aps.Client {
	if di.apsClient == nil {
		cfg := di.Config().APS
		di.apsClient = aps.New(cfg.BaseURL, aps.Timeouts{
			Auth:     cfg.Timeouts.Auth,
			Control:  cfg.Timeouts.Control,
			Transfer: cfg.Timeouts.Transfer,
		}, aps.WithLogger(di.Logger()))
	}
	return di.apsClient
}

// Sessions hands out one token holder per run or request.
func (di *dependencyInjector) Sessions() usecase.SessionFactory {
	cfg := di.Config()
	creds := aps.Credentials{
		ClientID:     cfg.APS.ClientID,
		ClientSecret: cfg.APS.ClientSecret,
		Scopes:       cfg.APS.Scopes,
	}
	sessCfg := aps.SessionConfig{
		RefreshOnExpiry: cfg.Auth.RefreshOnExpiry,
		RefreshSkew:     cfg.Auth.RefreshSkew,
	}
	client := di.APSClient()
	return func() usecase.TokenSource {
		return aps.NewSession(client, creds, sessCfg)
	}
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("RedisClient: %+v", err)
		}

		di.redis = client
		di.closers = append(di.closers, func(context.Context) error { return client.Close() })
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) RunStore(ctx context.Context) runStore {
	if di.runStore == nil {
		if di.Config().Redis.Addr == "" {
			di.runStore = runstore.NewMemoryRunStore()
			di.Logger().Info("redis not configured, run journal kept in memory")
		} else {
			di.runStore = runstore.NewRedisRunStore(di.RedisClient(ctx))
		}
	}
	return di.runStore
}

func (di *dependencyInjector) Artifacts(ctx context.Context) artifactStore {
	if di.artifacts == nil {
		cfg := di.Config()

		local, err := filestore.NewLocalStore(cfg.Output.Dir)
		if err != nil {
			log.Fatalf("Artifacts local: %+v", err)
		}
		di.Logger().Info("initialized local artifact store", slog.String("dir", cfg.Output.Dir))

		if cfg.MinIO.Endpoint == "" {
			di.artifacts = local
			return di.artifacts
		}

		remote, err := filestore.NewMinIOStore(ctx, mio.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			Bucket:          cfg.MinIO.Bucket,
			Prefix:          cfg.MinIO.Prefix,
		})
		if err != nil {
			log.Fatalf("Artifacts minio: %+v", err)
		}
		di.Logger().Info("initialized MinIO mirror",
			slog.String("endpoint", cfg.MinIO.Endpoint),
			slog.String("bucket", cfg.MinIO.Bucket),
		)

		async := filestore.NewAsyncStore(ctx, local, remote,
			cfg.MinIO.QueueCapacity, cfg.MinIO.PoolSize, cfg.MinIO.MaxRetries)
		di.closers = append(di.closers, async.Close)
		di.Logger().Info("using async artifact store (local + MinIO)",
			slog.Int("queue_size", cfg.MinIO.QueueCapacity),
			slog.Int("worker_num", cfg.MinIO.PoolSize),
			slog.Int("max_retries", cfg.MinIO.MaxRetries),
		)
		di.artifacts = async
	}

	return di.artifacts
}

func (di *dependencyInjector) NATSConn() *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
		di.closers = append(di.closers, func(context.Context) error { return nc.Drain() })
		di.Logger().Info("connected to nats", slog.String("url", nc.ConnectedUrl()))
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream() nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config()
		js, err := natsq.NewJetStream(di.NATSConn(), &nats.StreamConfig{
			Name:     cfg.NATS.Stream,
			Subjects: queue.Subjects(cfg.NATS.SubjectPrefix),
			Storage:  nats.FileStorage,
			Replicas: 1,
			MaxAge:   cfg.Retention.RunTTL,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Events() usecase.EventPublisher {
	if di.events == nil {
		cfg := di.Config().NATS
		if cfg.URL == "" {
			di.events = queue.NewNoop()
		} else {
			di.events = queue.New(di.JetStream(), cfg.SubjectPrefix)
		}
	}
	return di.events
}

// EventConsumer tails the run event stream. It needs a NATS url.
func (di *dependencyInjector) EventConsumer(durable string) (eventConsumer, error) {
	cfg := di.Config().NATS
	if cfg.URL == "" {
		return nil, errors.New("nats.url is not configured, there are no events to watch")
	}
	return queue.NewConsumer(di.JetStream(), cfg.Stream, cfg.SubjectPrefix, durable), nil
}

func (di *dependencyInjector) Inspector() usecase.PDFInspector {
	if di.inspector == nil {
		if di.Config().Output.ValidatePDF {
			di.inspector = pdf.NewInspector()
		} else {
			di.inspector = pdf.NewNoop()
		}
	}
	return di.inspector
}

func (di *dependencyInjector) pollConfig() poller.Config {
	cfg := di.Config().Poll
	return poller.Config{
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
		MaxWait:     cfg.MaxWait,
	}
}

func (di *dependencyInjector) Workflow(ctx context.Context) *usecase.Workflow {
	if di.workflow == nil {
		cfg := di.Config()
		di.workflow = usecase.NewWorkflow(
			usecase.WorkflowConfig{
				Bucket:       domain.BucketKey(cfg.APS.BucketPrefix, cfg.APS.ClientID),
				BucketPolicy: cfg.APS.BucketPolicy,
				ActivityID:   cfg.APS.ActivityID,
				RunTTL:       cfg.Retention.RunTTL,
				Poll:         di.pollConfig(),
			},
			di.APSClient(),
			di.Sessions(),
			di.Artifacts(ctx),
			di.RunStore(ctx),
			di.Events(),
			di.Inspector(),
			usecase.WithLogger(di.Logger()),
		)
	}
	return di.workflow
}

func (di *dependencyInjector) Viewer(ctx context.Context) *usecase.Viewer {
	if di.viewer == nil {
		cfg := di.Config()
		di.viewer = usecase.NewViewer(
			usecase.ViewerConfig{
				Bucket:       domain.BucketKey(cfg.APS.ViewerBucketPrefix, cfg.APS.ClientID),
				BucketPolicy: cfg.APS.BucketPolicy,
				RunTTL:       cfg.Retention.RunTTL,
				Poll:         di.pollConfig(),
			},
			di.APSClient(),
			di.Sessions(),
			di.RunStore(ctx),
			di.Events(),
		)
	}
	return di.viewer
}

func (di *dependencyInjector) Runs(ctx context.Context) *usecase.Runs {
	if di.runs == nil {
		di.runs = usecase.NewRuns(di.RunStore(ctx), di.Artifacts(ctx))
	}
	return di.runs
}

func (di *dependencyInjector) Router(ctx context.Context) *mux.Router {
	if di.router == nil {
		h, err := transport.NewHandler(di.Config().HTTP.MaxUploadMb, di.Viewer(ctx), di.Runs(ctx))
		if err != nil {
			log.Fatalf("DI Handler: %+v", err)
		}
		di.router = transport.NewRouter(h, di.Logger())
	}
	return di.router
}

func (di *dependencyInjector) GRPCServer() (*grpc.Server, *health.Server) {
	if di.grpcServer == nil {
		di.grpcServer, di.health = transport.NewGRPCServer(di.Logger())
	}
	return di.grpcServer, di.health
}

func (di *dependencyInjector) Retention(ctx context.Context) *usecase.Retention {
	cfg := di.Config().Retention
	return usecase.NewRetention(cfg.Schedule, cfg.RunTTL, di.RunStore(ctx), di.Artifacts(ctx))
}

// Close releases connections in reverse order of creation.
func (di *dependencyInjector) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i := len(di.closers) - 1; i >= 0; i-- {
		if err := di.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	di.closers = nil
	return errors.Join(errs...)
}
