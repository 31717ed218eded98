package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-relief-fitness/internal/config"
	"github.com/mr1hm/go-relief-fitness/internal/fitness"
	internalgrpc "github.com/mr1hm/go-relief-fitness/internal/grpc"
	"github.com/mr1hm/go-relief-fitness/internal/ingestion"
	"github.com/mr1hm/go-relief-fitness/internal/logging"
	"github.com/mr1hm/go-relief-fitness/internal/observability"
	"github.com/mr1hm/go-relief-fitness/internal/pipeline"
	"github.com/mr1hm/go-relief-fitness/internal/repository"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  needs                     Build the district need matrix\n")
	fmt.Fprintf(os.Stderr, "  score                     Score every NGO/district pair\n")
	fmt.Fprintf(os.Stderr, "  train                     Train a fitness model on the scored pairs\n")
	fmt.Fprintf(os.Stderr, "  run                       Run needs, score and train in order\n")
	fmt.Fprintf(os.Stderr, "  predict <ngo> <district>  Predict fitness for one pair\n")
	fmt.Fprintf(os.Stderr, "  top <ngo>                 Rank districts for an NGO\n")
	fmt.Fprintf(os.Stderr, "  models                    List trained model versions\n")
	fmt.Fprintf(os.Stderr, "  inspect                   Summarize the CSV outputs in OUTPUT_DIR\n")
	fmt.Fprintf(os.Stderr, "\nRun '%s <command> -h' for command options.\n", filepath.Base(os.Args[0]))
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	logging.SetupWriter(cfg.Logging.Level, os.Stderr)
	observability.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.Endpoint)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, os.Args[1], os.Args[2:], os.Stdout)
	stop()
	observability.ShutdownTracer()

	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, command string, args []string, out io.Writer) error {
	switch command {
	case "needs", "score", "train", "run":
		return cmdStage(ctx, cfg, command, args, out)
	case "predict":
		return cmdPredict(ctx, cfg, args, out)
	case "top":
		return cmdTop(ctx, cfg, args, out)
	case "models":
		return cmdModels(ctx, cfg, args, out)
	case "inspect":
		return cmdInspect(cfg, args, out)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		usage()
		return errUsage
	}
}

func openDB(cfg *config.Config) (*repository.SQLiteDB, error) {
	return repository.NewSQLiteDB(cfg.DB.Path)
}

func cmdStage(ctx context.Context, cfg *config.Config, stage string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(stage, flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p := pipeline.New(db, cfg.PipelineOptions())

	var result any
	switch stage {
	case "needs":
		m, err := p.BuildNeeds(ctx)
		if err != nil {
			return err
		}
		result = map[string]any{"districts": len(m.Rows)}
	case "score":
		pairs, err := p.Score(ctx)
		if err != nil {
			return err
		}
		result = map[string]any{"pairs": len(pairs)}
	case "train":
		m, err := p.Train(ctx)
		if err != nil {
			return err
		}
		result = m.Info()
	default:
		res, err := p.Run(ctx)
		if err != nil {
			return err
		}
		result = res
	}

	if *jsonOutput {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "%s: %+v\n", stage, result)
	return nil
}

func cmdPredict(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	remote := fs.String("remote", "", "query a running server at this gRPC address instead of the local database")
	match := fs.Float64("match", 0, "predict from a raw match value instead of names (with -urgency)")
	urgency := fs.Float64("urgency", 0, "raw urgency value, used with -match")
	jsonOutput := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := isSet(fs, "match") || isSet(fs, "urgency")
	if !raw && fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: predict [-remote addr] <ngo> <district>  |  predict -match m -urgency u")
		return errUsage
	}

	var p *fitness.Prediction
	switch {
	case raw:
		svc, closeFn, err := localService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		pred, err := svc.PredictPair(*match, *urgency)
		if err != nil {
			return err
		}
		p = &pred
	case *remote != "":
		conn, err := internalgrpc.Dial(*remote)
		if err != nil {
			return err
		}
		defer conn.Close()
		p, err = internalgrpc.NewClient(conn).Predict(ctx, fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
	default:
		svc, closeFn, err := localService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		pred, err := svc.Predict(fs.Arg(0), fs.Arg(1))
		if err != nil {
			return err
		}
		p = &pred
	}

	if *jsonOutput {
		return writeJSON(out, p)
	}
	if p.NGO != "" {
		fmt.Fprintf(out, "%s / %s\n", p.NGO, p.District)
	}
	fmt.Fprintf(out, "fitness %.2f  (match %.3f, urgency %.3f, model %s)\n", p.Fitness, p.Match, p.Urgency, p.ModelID)
	return nil
}

func cmdTop(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	remote := fs.String("remote", "", "query a running server at this gRPC address instead of the local database")
	n := fs.Int("n", 10, "number of districts to show (0 for all)")
	jsonOutput := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *n < 0 {
		fmt.Fprintln(os.Stderr, "usage: top [-remote addr] [-n count] <ngo>")
		return errUsage
	}

	var ranked []fitness.Prediction
	if *remote != "" {
		conn, err := internalgrpc.Dial(*remote)
		if err != nil {
			return err
		}
		defer conn.Close()
		ranked, err = internalgrpc.NewClient(conn).RankDistricts(ctx, fs.Arg(0), int32(*n))
		if err != nil {
			return err
		}
	} else {
		svc, closeFn, err := localService(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		ranked, err = svc.RankDistricts(fs.Arg(0), *n)
		if err != nil {
			return err
		}
	}

	if *jsonOutput {
		return writeJSON(out, ranked)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tDISTRICT\tFITNESS\tMATCH\tURGENCY")
	for i, p := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.3f\t%.3f\n", i+1, p.District, p.Fitness, p.Match, p.Urgency)
	}
	return tw.Flush()
}

func cmdModels(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := db.ListModels(ctx)
	if err != nil {
		return err
	}
	if *jsonOutput {
		return writeJSON(out, list)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTREES\tTRAIN\tTEST\tR2\tACTIVE")
	for _, m := range list {
		r2 := "-"
		if m.R2 != nil {
			r2 = fmt.Sprintf("%.3f", *m.R2)
		}
		active := ""
		if m.Active {
			active = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Trees, m.TrainSize, m.TestSize, r2, active)
	}
	return tw.Flush()
}

// cmdInspect reads the CSV outputs back from OUTPUT_DIR without touching the
// database, so copies shipped elsewhere can be checked.
func cmdInspect(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	dir := fs.String("dir", cfg.Output.Dir, "directory holding the pipeline outputs")
	n := fs.Int("n", 5, "number of top pairs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	needs, err := ingestion.ReadNeedsFile(filepath.Join(*dir, pipeline.NeedsFile))
	if err != nil {
		return err
	}
	pairs, err := ingestion.ReadPairsFile(filepath.Join(*dir, pipeline.PairsFile))
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d districts, %d need columns\n", pipeline.NeedsFile, len(needs.Rows), len(needs.Categories))
	fmt.Fprintf(out, "%s: %d pairs\n", pipeline.PairsFile, len(pairs))

	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Fitness > pairs[j].Fitness })
	if *n >= 0 && len(pairs) > *n {
		pairs = pairs[:*n]
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NGO\tDISTRICT\tFITNESS\tMATCH\tURGENCY")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.3f\t%.3f\n", p.NGO, p.District, p.Fitness, p.Match, p.Urgency)
	}
	return tw.Flush()
}

func localService(ctx context.Context, cfg *config.Config) (*fitness.Service, func(), error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := fitness.NewService()
	if err := svc.Reload(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc, func() { db.Close() }, nil
}

func isSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
