package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tunivo/studio/internal/settings"
	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/models"
	"github.com/tunivo/studio/pkg/studio"
	"github.com/tunivo/studio/pkg/studio/export"
	"github.com/tunivo/studio/pkg/studio/provider"
)

// Global flags
var (
	dbPath  string
	tempDir string
	account string
	plan    string
)

func init() {
	flag.StringVar(&dbPath, "db", settings.GetEnvOrDefault("TUNIVO_DB_PATH", settings.DefaultDBPath), "Path to the SQLite ledger database")
	flag.StringVar(&tempDir, "temp", settings.GetEnvOrDefault("TUNIVO_TEMP_DIR", os.TempDir()), "Directory for clips and export passes")
	flag.StringVar(&account, "account", settings.GetEnvOrDefault("TUNIVO_ACCOUNT", "local"), "Ledger account charged for jobs")
	flag.StringVar(&plan, "plan", settings.GetEnvOrDefault("TUNIVO_PLAN", "creator"), "Plan tier used when the account is new")
}

// createStudio opens a Studio on the sqlite ledger with the account's plan
// allowance from the catalog.
func createStudio(opts ...studio.Option) (*studio.Studio, error) {
	cfg, err := settings.Load()
	if err != nil {
		return nil, err
	}
	allowance, err := cfg.Plans.Allowance(plan)
	if err != nil {
		return nil, err
	}
	base := []studio.Option{
		studio.WithDBPath(dbPath),
		studio.WithTempDir(tempDir),
		studio.WithAccount(account),
		studio.WithPlanTier(plan),
		studio.WithAllowance(allowance),
	}
	return studio.New(append(base, opts...)...)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	logger.GetLogger().Debugf("Executing command: %s", command)

	switch command {
	case "plan":
		handlePlan(args)
	case "produce":
		handleProduce(args, false)
	case "render":
		handleProduce(args, true)
	case "credits":
		handleCredits(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printBanner() {
	banner := `
 _____               _
|_   _|   _ _ __ (_)_   _____
  | || | | | '_ \| \ \ / / _ \
  | || |_| | | | | |\ V / (_) |
  |_| \__,_|_| |_|_| \_/ \___/

   Music Video Timeline Studio
`
	fmt.Println(banner)
}

func fail(format string, args ...any) {
	fmt.Printf("❌ "+format+"\n", args...)
	logger.GetLogger().Errorf(format, args...)
	os.Exit(1)
}

// splitArgs separates leading positional arguments from flags, so
// "plan song.json -prompt x" parses like "plan -prompt x song.json".
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

type jobInputs struct {
	analysis models.Analysis
	lyrics   models.Lyrics
	prompt   string
	mode     models.Mode
}

// readInputs loads the analysis document and the optional lyrics document.
func readInputs(analysisPath, lyricsPath, prompt, mode string) (jobInputs, error) {
	data, err := os.ReadFile(analysisPath)
	if err != nil {
		return jobInputs{}, fmt.Errorf("reading analysis: %w", err)
	}
	analysis, err := models.ParseAnalysis(data)
	if err != nil {
		return jobInputs{}, err
	}

	var lyrics models.Lyrics
	if lyricsPath != "" {
		data, err := os.ReadFile(lyricsPath)
		if err != nil {
			return jobInputs{}, fmt.Errorf("reading lyrics: %w", err)
		}
		if lyrics, err = models.ParseLyrics(data); err != nil {
			return jobInputs{}, err
		}
	}

	in := jobInputs{analysis: analysis, lyrics: lyrics, prompt: prompt, mode: analysis.Mode}
	if mode != "" {
		if in.mode, err = models.ParseMode(mode); err != nil {
			return jobInputs{}, err
		}
	}
	return in, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail("Failed to encode output: %v", err)
	}
}

func handlePlan(args []string) {
	positional, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet("plan", flag.ExitOnError)
	lyricsPath := cmd.String("lyrics", "", "Lyrics JSON file (optional)")
	prompt := cmd.String("prompt", "", "Creative prompt prepended to every segment")
	mode := cmd.String("mode", "", "fast or high (default: the analysis mode)")
	cmd.Parse(flagArgs)
	positional = append(positional, cmd.Args()...)

	if len(positional) != 1 {
		fmt.Println("Usage: tunivo plan <analysis.json> [-lyrics <file>] [-prompt <text>] [-mode fast|high]")
		os.Exit(1)
	}

	in, err := readInputs(positional[0], *lyricsPath, *prompt, *mode)
	if err != nil {
		fail("Failed to read inputs: %v", err)
	}
	in.analysis.Mode = in.mode

	// Planning touches no credits, so an in-memory ledger is enough.
	svc, err := studio.New(studio.WithLogger(logger.Nop()), studio.WithTempDir(tempDir))
	if err != nil {
		fail("Failed to create studio: %v", err)
	}
	defer svc.Close()

	p, err := svc.Plan(in.analysis, in.lyrics, in.prompt)
	if err != nil {
		fail("Planning failed: %v", err)
	}
	printJSON(p)
}

func handleProduce(args []string, render bool) {
	name := "produce"
	if render {
		name = "render"
	}
	positional, flagArgs := splitArgs(args)
	cmd := flag.NewFlagSet(name, flag.ExitOnError)
	lyricsPath := cmd.String("lyrics", "", "Lyrics JSON file (optional)")
	prompt := cmd.String("prompt", "", "Creative prompt prepended to every segment")
	mode := cmd.String("mode", "", "fast or high (default: the analysis mode)")
	aspect := cmd.String("aspect", provider.DefaultAspect, "16:9, 9:16 or 1:1")
	jobID := cmd.String("job", "", "Job id, reuse it to retry without a second charge")
	drift := cmd.Float64("drift", 0, "Mock clip length deviation, 0.1 = up to 10%")
	concurrency := cmd.Int("concurrency", provider.DefaultConcurrency, "Clips generated in parallel")
	audioPath := cmd.String("audio", "", "Soundtrack to mux (render only)")
	outPath := cmd.String("out", "", "Output video path (render only)")
	presetFile := cmd.String("preset-file", "", "YAML file of encoder presets (render only)")
	presetName := cmd.String("preset", "", "Preset name inside -preset-file")
	cmd.Parse(flagArgs)
	positional = append(positional, cmd.Args()...)

	if len(positional) != 1 {
		fmt.Printf("Usage: tunivo %s <analysis.json> [options]\n", name)
		cmd.PrintDefaults()
		os.Exit(1)
	}
	if render && (*audioPath == "" || *outPath == "") {
		fail("render needs -audio and -out")
	}

	in, err := readInputs(positional[0], *lyricsPath, *prompt, *mode)
	if err != nil {
		fail("Failed to read inputs: %v", err)
	}

	log := logger.GetLogger()
	mockOpts := []provider.MockOption{
		provider.WithOutputDir(filepath.Join(tempDir, "tunivo-clips")),
		provider.WithDrift(*drift),
	}
	var exportOpts []export.Option
	if render {
		// Rendering needs real clip files for the concat pass.
		mockOpts = append(mockOpts, provider.WithRenderer(export.LocalExecutor{}))
		exportOpts = append(exportOpts, export.WithTempDir(tempDir), export.WithLogger(log.Named("export")))
		if *presetFile != "" {
			presets, err := export.LoadPresetFile(*presetFile)
			if err != nil {
				fail("Failed to load presets: %v", err)
			}
			p, ok := presets[*presetName]
			if !ok {
				fail("Preset %q not found in %s", *presetName, *presetFile)
			}
			exportOpts = append(exportOpts, export.WithPreset(p))
		}
	}

	svc, err := createStudio(
		studio.WithProvider(provider.NewMockProvider(mockOpts,
			provider.WithConcurrency(*concurrency),
			provider.WithFanoutLogger(log.Named("provider")),
		)),
		studio.WithExporter(export.New(exportOpts...)),
	)
	if err != nil {
		fail("Failed to create studio: %v", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	req := studio.JobRequest{
		JobID:    *jobID,
		Analysis: in.analysis,
		Lyrics:   in.lyrics,
		Prompt:   in.prompt,
		Mode:     in.mode,
		Aspect:   *aspect,
		OnProgress: func(stage studio.Stage, fraction float64) {
			fmt.Fprintf(os.Stderr, "   [%3.0f%%] %s\n", fraction*100, stage)
		},
	}
	if render {
		req.AudioPath, req.OutputPath = *audioPath, *outPath
	}

	res, err := svc.Produce(ctx, req)
	if err != nil {
		fail("Job failed: %v", err)
	}

	printJSON(res)
	fmt.Fprintf(os.Stderr, "\n✅ Job %s: %d clips, score %.4f\n", res.JobID, len(res.Clips), res.Score.Total)
	if res.Reused {
		fmt.Fprintln(os.Stderr, "   Already paid for, no credits charged")
	}
	if res.OutputPath != "" {
		fmt.Fprintf(os.Stderr, "   Video: %s\n", res.OutputPath)
	}
}

func handleCredits(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: tunivo credits <balance|reserve|commit|release> [job_id] [amount]")
		os.Exit(1)
	}

	svc, err := createStudio(studio.WithLogger(logger.Nop()))
	if err != nil {
		fail("Failed to create studio: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()
	l := svc.Ledger()

	needJob := func() string {
		if len(args) < 2 {
			fail("credits %s needs a job id", args[0])
		}
		return args[1]
	}

	var res models.Reservation
	switch args[0] {
	case "balance":
		bal, err := l.Balance(ctx)
		if err != nil {
			fail("Failed to read balance: %v", err)
		}
		fmt.Printf("Account:   %s (%s)\n", l.Account(), bal.Plan)
		fmt.Printf("Allowance: %d\n", bal.Allowance)
		fmt.Printf("Held:      %d\n", bal.Held)
		fmt.Printf("Available: %d\n", bal.Available())
		return
	case "reserve":
		job := needJob()
		if len(args) < 3 {
			fail("credits reserve needs an amount")
		}
		amount, perr := strconv.ParseInt(args[2], 10, 64)
		if perr != nil {
			fail("Invalid amount %q: %v", args[2], perr)
		}
		res, err = l.Reserve(ctx, job, amount)
	case "commit":
		res, err = l.Commit(ctx, needJob())
	case "release":
		res, err = l.Release(ctx, needJob())
	default:
		fail("Unknown credits command: %s", args[0])
	}
	if err != nil {
		fail("%s failed: %v", args[0], err)
	}

	fmt.Printf("✅ Job %s: %d credits, committed=%v released=%v\n", res.JobID, res.Amount, res.Committed, res.Released)
}

func printUsage() {
	fmt.Println("Tunivo Studio - music video timeline CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  -db <path>         SQLite ledger (env: TUNIVO_DB_PATH, default: tunivo.sqlite3)")
	fmt.Println("  -temp <dir>        Scratch directory (env: TUNIVO_TEMP_DIR)")
	fmt.Println("  -account <name>    Ledger account (env: TUNIVO_ACCOUNT, default: local)")
	fmt.Println("  -plan <tier>       Plan for a new account (env: TUNIVO_PLAN, default: creator)")
	fmt.Println("\nUsage:")
	fmt.Println("  tunivo [global-options] plan <analysis.json> [-lyrics f] [-prompt s] [-mode fast|high]")
	fmt.Println("  tunivo [global-options] produce <analysis.json> [-lyrics f] [-prompt s] [-job id] [-aspect 9:16]")
	fmt.Println("  tunivo [global-options] render <analysis.json> -audio song.wav -out video.mp4 [-preset-file p.yaml -preset name]")
	fmt.Println("  tunivo [global-options] credits balance")
	fmt.Println("  tunivo [global-options] credits reserve <job_id> <amount>")
	fmt.Println("  tunivo [global-options] credits commit|release <job_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  tunivo plan song.json -prompt \"cinematic skyline\" -mode high")
	fmt.Println("  tunivo -account ada render song.json -audio song.wav -out ada.mp4")
}
