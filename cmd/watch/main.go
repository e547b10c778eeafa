// Command watch follows the active translation job of a project from the terminal, optionally
// submitting one first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tolkhub/jobwatch/config"
	"github.com/tolkhub/jobwatch/internal/app"
	"github.com/tolkhub/jobwatch/internal/backend"
	"github.com/tolkhub/jobwatch/internal/model"
	"github.com/tolkhub/jobwatch/internal/model/dto"
	"github.com/tolkhub/jobwatch/internal/notify"
	"github.com/tolkhub/jobwatch/internal/pkg/apperr"
	"github.com/tolkhub/jobwatch/internal/pkg/clock"
	"github.com/tolkhub/jobwatch/internal/pkg/logging"
	"github.com/tolkhub/jobwatch/internal/reconciler"
	"github.com/tolkhub/jobwatch/internal/service"
)

type options struct {
	configPath string
	projectID  string
	create     bool
	mode       string
	target     string
	keys       string
	estimate   int
	token      string
	userID     string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "path to the config file")
	flag.StringVar(&opts.projectID, "project", "", "project id (required)")
	flag.BoolVar(&opts.create, "create", false, "submit a new job before watching")
	flag.StringVar(&opts.mode, "mode", string(model.JobModeAll), "job mode: all, selected or single")
	flag.StringVar(&opts.target, "target", "", "target locale, e.g. fr or pt-BR")
	flag.StringVar(&opts.keys, "keys", "", "comma separated key ids for selected/single mode")
	flag.IntVar(&opts.estimate, "estimate", -1, "estimated key count shown until the backend reports one")
	flag.StringVar(&opts.token, "token", os.Getenv("JOBWATCH_TOKEN"), "access token forwarded to the backend")
	flag.StringVar(&opts.userID, "user", "", "user id the local backend authorizes as")
	flag.Parse()

	if opts.projectID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, apperr.UserMessage(err))
		slog.Debug("watch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, out io.Writer) error {
	b, err := app.OpenBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	c, err := app.NewCache(cfg, nil)
	if err != nil {
		return err
	}

	if opts.token != "" {
		ctx = backend.WithAccessToken(ctx, opts.token)
	}
	if opts.userID != "" {
		ctx = backend.WithUserID(ctx, opts.userID)
	}

	notified := make(chan notify.Notification, 1)
	printer := notify.Func(func(_ context.Context, n notify.Notification) error {
		fmt.Fprintf(out, "[%s] %s: %s\n", n.Kind, n.Title, n.Message)
		select {
		case notified <- n:
		default:
		}
		return nil
	})

	r := reconciler.New(c, b, printer)
	jobs := service.NewJobCommandService(b, c, r, nil)
	watch := service.NewWatchService(b, c, r, cfg.Poller, clock.Real(), nil)
	defer watch.Shutdown()

	if opts.create {
		req := &dto.CreateJobRequest{
			ProjectID:    opts.projectID,
			Mode:         model.JobMode(opts.mode),
			TargetLocale: opts.target,
			KeyIDs:       splitKeys(opts.keys),
		}
		if opts.estimate >= 0 {
			req.EstimatedTotalKeys = &opts.estimate
		}
		resp, err := jobs.Create(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "submitted job %s (%s)\n", resp.JobID, resp.Status)
	}

	state, err := watch.Open(ctx, opts.userID, opts.projectID)
	if err != nil {
		return err
	}
	if !state.HasActiveJob {
		fmt.Fprintln(out, "no active job")
		return nil
	}
	return follow(ctx, watch, opts, state, notified, out)
}

// follow prints progress until the poller goes idle and the finished job was reported.
func follow(ctx context.Context, watch *service.WatchService, opts options, state dto.PollState, notified <-chan notify.Notification, out io.Writer) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		if line := progressLine(state.Job); line != "" && line != last {
			fmt.Fprintln(out, line)
			last = line
		}
		if !state.IsPolling {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err error
		if state, err = watch.State(opts.userID, opts.projectID); err != nil {
			return err
		}
	}

	if state.HasActiveJob {
		return errors.New("stopped polling after reaching the attempt limit; the job is still active")
	}

	// the reconciler reports the finished job right after the poller went idle
	select {
	case <-notified:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

func progressLine(job *model.TranslationJob) string {
	if job == nil {
		return ""
	}
	total := "?"
	if job.TotalKeys != nil {
		total = fmt.Sprint(*job.TotalKeys)
	}
	return fmt.Sprintf("%s %s -> %s: %d/%s keys, %d failed", job.ID, job.Status, job.TargetLocale, job.CompletedKeys, total, job.FailedKeys)
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
