package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/client"
	"github.com/raphaelgruber/scenariogen/internal/config"
	"github.com/raphaelgruber/scenariogen/internal/generation"
	"github.com/raphaelgruber/scenariogen/internal/llm"
	"github.com/raphaelgruber/scenariogen/internal/metrics"
	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/raphaelgruber/scenariogen/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	genFlags  requestFlags
	genLocal  bool
	genDetach bool
	genJSON   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate scenarios for an experiment",
	Long: `Generate one scenario per domain x tier x repetition x model.

The run executes on the server and its progress is streamed back. Ctrl+C
leaves a server run going in the background; use 'scenariogen watch' to
follow it again. With --local the engine runs in this process against the
configured store, and Ctrl+C stops the run after in-flight calls finish.

Progress is an interactive view on a terminal and newline-delimited JSON
events otherwise (or with --json).

Examples:
  scenariogen generate -e exp-42 --domains analytical,planning --tiers simple -n 3
  scenariogen generate -f request.yaml --concurrency 4
  scenariogen generate -e exp-42 --models claude-sonnet-4-20250514,gpt-4o --detach
  scenariogen generate -f request.yaml --local --json > events.ndjson`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&genFlags.file, "file", "f", "", "YAML request file")
	f.StringVarP(&genFlags.experimentID, "experiment", "e", "", "experiment ID")
	f.StringSliceVar(&genFlags.domains, "domains", nil, "domains (analytical, planning, communication, problem_solving)")
	f.StringSliceVar(&genFlags.tiers, "tiers", nil, "tiers (simple, moderate, complex)")
	f.IntVarP(&genFlags.repetitions, "repetitions", "n", 0, "repetitions per domain and tier")
	f.StringVar(&genFlags.model, "model", "", "model ID")
	f.StringSliceVar(&genFlags.models, "models", nil, "additional model IDs")
	f.IntVarP(&genFlags.concurrency, "concurrency", "c", 0, fmt.Sprintf("concurrent generation calls (1-%d)", config.MaxConcurrency))
	f.BoolVar(&genLocal, "local", false, "run the engine in this process instead of on the server")
	f.BoolVar(&genDetach, "detach", false, "start the run on the server and print its ID")
	f.BoolVar(&genJSON, "json", false, "print progress events as JSON lines")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(genFlags)
	if err != nil {
		return err
	}

	if genLocal {
		if genDetach {
			return errors.New("--detach needs a server; drop --local")
		}
		return generateLocal(cmd.Context(), req)
	}
	return generateRemote(cmd.Context(), req)
}

func generateRemote(ctx context.Context, req models.GenerationRequest) error {
	run, err := apiClient.StartRun(ctx, req)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	if genDetach {
		if genJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		fmt.Println(run.ID)
		return nil
	}

	hint := "Press Ctrl+C to continue in background"
	final, err := followRemote(ctx, *run, hint)
	if errors.Is(err, errDetached) {
		fmt.Fprintf(os.Stderr, "Run %s continues in background.\nUse 'scenariogen watch %s' to follow it.\n", run.ID, run.ID)
		return nil
	}
	if err != nil {
		return err
	}
	return runResult(final)
}

// remoteStream follows a server run. A stream the server dropped for
// falling behind is reopened, skipping replayed events already seen.
type remoteStream struct {
	runID   string
	lastSeq int64
	// missed counts events that fell out of the server backlog before a
	// reconnect could replay them. Read after the source may still be
	// winding down.
	missed atomic.Int64
}

func (s *remoteStream) source(ctx context.Context, onEvent func(models.ProgressEvent) error) error {
	for {
		err := apiClient.StreamEvents(ctx, s.runID, func(ev models.ProgressEvent) error {
			if ev.Seq <= s.lastSeq {
				return nil
			}
			if s.lastSeq > 0 && ev.Seq > s.lastSeq+1 {
				s.missed.Add(ev.Seq - s.lastSeq - 1)
			}
			s.lastSeq = ev.Seq
			return onEvent(ev)
		})
		if !errors.Is(err, client.ErrStreamDropped) {
			return err
		}
	}
}

// followRemote follows a server run and warns about progress lost to
// reconnects once the view is closed.
func followRemote(ctx context.Context, run models.Run, hint string) (*models.ProgressEvent, error) {
	stream := &remoteStream{runID: run.ID}
	final, err := follow(ctx, run, hint, stream.source)
	if missed := stream.missed.Load(); missed > 0 {
		warnf("%d progress events were lost while reconnecting; run %s counters are still exact", missed, run.ID)
	}
	return final, err
}

// follow renders src interactively on a terminal and as NDJSON otherwise.
// In NDJSON mode an interrupt signal ends the stream with errDetached.
func follow(ctx context.Context, run models.Run, hint string, src eventSource) (*models.ProgressEvent, error) {
	if !genJSON && term.IsTerminal(int(os.Stdout.Fd())) {
		return runProgressUI(ctx, run, hint, src)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return streamNDJSON(ctx, os.Stdout, src)
}

// localEngine is an in-process run manager and the resources it owns.
type localEngine struct {
	runs  *service.RunManager
	close func() error
}

// openLocalEngine wires the engine the same way the server does.
func openLocalEngine(ctx context.Context, interactive bool) (*localEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Log lines on stderr would tear the interactive view.
	stderrLevel := cfg.LogLevel
	if interactive {
		stderrLevel = slog.LevelError + 4
	}
	logger, closeLog := config.SetupLoggerLevels(cfg.LogFile, stderrLevel, cfg.LogLevel)

	store, err := service.OpenStore(ctx, cfg, logger)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}

	collector := metrics.NewCollector()
	model, err := llm.NewModel(ctx, cfg, collector)
	if err != nil {
		_ = store.Close(ctx)
		_ = closeLog()
		return nil, fmt.Errorf("init model: %w", err)
	}

	gen := llm.NewScenarioGenerator(model, logger)
	coord := generation.NewCoordinator(gen, store, service.EngineConfig(cfg), logger, collector)
	runs := service.NewRunManager(coord, store, logger)

	if _, err := runs.MarkInterrupted(ctx); err != nil {
		logger.Warn("failed to mark interrupted runs", "error", err)
	}

	return &localEngine{
		runs: runs,
		close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return errors.Join(runs.Shutdown(ctx), store.Close(ctx), closeLog())
		},
	}, nil
}

func generateLocal(ctx context.Context, req models.GenerationRequest) error {
	interactive := !genJSON && term.IsTerminal(int(os.Stdout.Fd()))

	engine, err := openLocalEngine(ctx, interactive)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.close(); err != nil {
			warnf("shutdown: %v", err)
		}
	}()

	run, err := engine.runs.Start(ctx, req)
	if err != nil {
		var runErr *generation.RunError
		if errors.As(err, &runErr) {
			return fmt.Errorf("%s: %s", runErr.Code, runErr.Message)
		}
		return fmt.Errorf("start run: %w", err)
	}

	src := func(ctx context.Context, onEvent func(models.ProgressEvent) error) error {
		sub, err := engine.runs.Subscribe(ctx, run.ID)
		if err != nil {
			return err
		}
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-sub.C:
				if !ok {
					if sub.Dropped() {
						return errors.New("progress view fell behind the run")
					}
					return nil
				}
				if err := onEvent(ev); err != nil {
					return err
				}
			}
		}
	}
	hint := "Press Ctrl+C to stop the run"

	final, err := follow(ctx, run, hint, src)
	if errors.Is(err, errDetached) {
		fmt.Fprintf(os.Stderr, "Stopping run %s after in-flight calls...\n", run.ID)
		if _, err := engine.runs.Stop(context.Background(), run.ID); err != nil {
			return fmt.Errorf("stop run: %w", err)
		}
		stopped, err := engine.runs.Wait(context.Background(), run.ID)
		if err != nil {
			return fmt.Errorf("wait for run: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Run %s %s: %d/%d scenarios stored.\n", stopped.ID, stopped.Status, stopped.Stored, stopped.Total)
		return nil
	}
	if err != nil {
		return err
	}
	return runResult(final)
}
