// Command worker runs the long-poll work-queue coordinator that
// drives the image and region workflows (spec §4.G, §4.F, §4.I).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
	"github.com/spf13/cobra"

	"github.com/mumuon/geovision-runner/internal/config"
	"github.com/mumuon/geovision-runner/internal/decoder"
	"github.com/mumuon/geovision-runner/internal/endpoint"
	"github.com/mumuon/geovision-runner/internal/image"
	"github.com/mumuon/geovision-runner/internal/imagestore"
	"github.com/mumuon/geovision-runner/internal/ledger"
	"github.com/mumuon/geovision-runner/internal/metrics"
	"github.com/mumuon/geovision-runner/internal/model"
	"github.com/mumuon/geovision-runner/internal/queue"
	"github.com/mumuon/geovision-runner/internal/region"
	"github.com/mumuon/geovision-runner/internal/sensormodel"
	"github.com/mumuon/geovision-runner/internal/sink"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "geovision-runner work-queue worker",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "worker.yaml", "path to a worker.yaml config file")
	root.AddCommand(runCmd(), validateConfigCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "poll the image and region queues and process work until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := newLogger(cfg.LogLevel)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coordinator, metricsRegistry, ledgerStore, err := wire(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}
			defer ledgerStore.Close()

			logger.Info("worker starting", "worker_id", cfg.WorkerID)

			done := make(chan error, 1)
			go func() { done <- coordinator.Run(ctx) }()
			go metricsRegistry.RunPeriodicEmitter(ctx, cfg.Metrics.EmitInterval)

			<-ctx.Done()
			logger.Info("shutdown signal received, draining in-flight work")
			if err := <-done; err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "load and validate the worker config without starting the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			fmt.Printf("config OK: worker_id=%s region_size=%d queue.image=%s queue.region=%s\n",
				cfg.WorkerID, cfg.RegionSize, cfg.Queue.ImageQueueURL, cfg.Queue.RegionQueueURL)
			return nil
		},
	}
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// wire builds the full dependency graph — ledger, queue transport,
// output sinks, endpoint client, image/region workflows, and the
// coordinator that ties them together — from one loaded Config and a
// single aws.Config shared across every AWS SDK v2 client, the same
// way the teacher's NewS3Client takes one set of credentials for the
// whole process.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*queue.Coordinator, *metrics.Registry, *ledger.Postgres, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load aws config: %w", err)
	}

	endpointResolver := s3EndpointResolver(cfg.AWSEndpointURL)
	s3Opts := func(o *s3.Options) {
		o.Region = awsCfg.Region
		o.Credentials = awsCfg.Credentials
		if endpointResolver != nil {
			o.EndpointResolverV2 = endpointResolver
		}
	}
	s3Client := s3.New(s3.Options{}, s3Opts)
	kinesisClient := kinesis.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)

	ledgerStore, err := ledger.NewPostgres(ctx, cfg.Ledger.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	queueClient := queue.NewSQSClient(sqsClient, cfg.Queue.ImageQueueURL, cfg.Queue.RegionQueueURL)

	var s3Sink *sink.S3Sink
	if cfg.Sinks.S3Bucket != "" {
		s3Sink, err = sink.NewS3Sink(ctx, cfg.Sinks.S3Bucket, endpointResolver, s3Opts)
		if err != nil {
			ledgerStore.Close()
			return nil, nil, nil, fmt.Errorf("wire s3 sink: %w", err)
		}
	}
	var kinesisSink *sink.KinesisSink
	if cfg.Sinks.KinesisStream != "" {
		kinesisSink = sink.NewKinesisSink(kinesisClient, cfg.Sinks.KinesisStream, cfg.Sinks.KinesisBatchSize)
	}
	sinkRegistry := sink.NewRegistry(s3Sink, kinesisSink)

	endpointOpts := endpoint.DefaultOptions()
	endpointOpts.DialTimeout = cfg.Endpoint.DialTimeout
	endpointOpts.RequestTimeout = cfg.Endpoint.RequestTimeout
	endpointOpts.MaxAttempts = cfg.Endpoint.MaxAttempts
	endpointClient := endpoint.New(endpointOpts, logger)

	metricsRegistry := metrics.New(logger)

	store := imagestore.NewS3(s3Client)
	imageDecoder := decoder.Raster{}

	regionWorkflow := region.New(ledgerStore, endpointClient, metricsRegistry, sinkRegistry, logger)
	regionWorkflow.PoolSize = cfg.TilePoolSize

	tileSourceFactory := region.TileSourceFactory(func(meta decoder.ImageMetadata, m sensormodel.Model) region.TileSource {
		return region.RasterCropper{Image: meta.Image, Format: meta.Format, Compression: model.CompressionNone}
	})
	imageWorkflow := image.New(ledgerStore, store, imageDecoder, queueClient, regionWorkflow, tileSourceFactory, logger)
	imageWorkflow.Now = time.Now

	coordinator := queue.NewCoordinator(queueClient, cfg.Queue.VisibilityTimeout,
		func(ctx context.Context, msg *queue.Message) error {
			return imageWorkflow.Process(ctx, msg.Image, cfg.WorkerID)
		},
		func(ctx context.Context, msg *queue.Message) error {
			req := *msg.Region
			meta, sensorModel, err := imageDecoder.Open(ctx, store, req.ImageURL)
			if err != nil {
				return &queue.TransientError{Err: fmt.Errorf("re-open image for region %s: %w", req.RegionID, err)}
			}
			source := tileSourceFactory(meta, sensorModel)
			return regionWorkflow.Process(ctx, req, source, sensorModel, cfg.WorkerID)
		},
		logger,
	)
	coordinator.OnDeadLetter = deadLetterHandler(ledgerStore, logger)

	return coordinator, metricsRegistry, ledgerStore, nil
}

// deadLetterHandler marks the JobRecord or RegionRecord a dead-lettered
// message names as a terminal failure (spec §4.I), the ledger-side
// half of dead-lettering the queue transport itself documents as the
// caller's responsibility.
func deadLetterHandler(l ledger.Ledger, logger *slog.Logger) queue.DeadLetterHandler {
	return func(ctx context.Context, msg *queue.Message) error {
		now := time.Now()
		switch msg.Kind {
		case queue.KindImage:
			req := msg.Image
			_, err := l.UpdateJobIf(ctx, req.JobID,
				func(cur model.JobRecord) bool { return !cur.Status.IsTerminal() },
				func(cur model.JobRecord) model.JobRecord {
					cur.Status = model.JobStatusFailed
					cur.EndTime = now
					return cur
				})
			if err != nil && err != ledger.ErrPredicateFailed {
				return err
			}
		case queue.KindRegion:
			req := msg.Region
			_, err := l.UpdateRegionIf(ctx, req.JobID, req.RegionID,
				func(cur model.RegionRecord) bool { return cur.Status != model.RegionStatusDone && cur.Status != model.RegionStatusError },
				func(cur model.RegionRecord) model.RegionRecord {
					cur.Status = model.RegionStatusError
					return cur
				})
			if err != nil && err != ledger.ErrPredicateFailed {
				return err
			}
			_, err = l.UpdateJobIf(ctx, req.JobID,
				func(cur model.JobRecord) bool { return !cur.Status.IsTerminal() },
				func(cur model.JobRecord) model.JobRecord {
					cur.Status = model.JobStatusFailed
					cur.EndTime = now
					return cur
				})
			if err != nil && err != ledger.ErrPredicateFailed {
				return err
			}
		}
		logger.Warn("marked ledger record FAILED after dead-letter", "kind", msg.Kind)
		return nil
	}
}

// s3EndpointResolver returns a custom endpoint resolver when an
// override URL is configured (local S3-compatible stores, the same
// override the teacher's S3Client constructor offers), or nil to use
// the default AWS resolution.
func s3EndpointResolver(overrideURL string) s3.EndpointResolverV2 {
	if overrideURL == "" {
		return nil
	}
	return staticS3EndpointResolver{url: overrideURL}
}

type staticS3EndpointResolver struct{ url string }

func (r staticS3EndpointResolver) ResolveEndpoint(ctx context.Context, params s3.EndpointParameters) (smithyendpoints.Endpoint, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return smithyendpoints.Endpoint{}, fmt.Errorf("parse s3 endpoint override %q: %w", r.url, err)
	}
	return smithyendpoints.Endpoint{URI: *u}, nil
}
