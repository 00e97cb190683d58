// agrimonctl is an interactive shell for inspecting an agrimon store
// offline: statistics, raw points, integrity audits, aggregate export.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/relvacode/iso8601"

	"github.com/agrimon/agrimon/internal/crypto"
	"github.com/agrimon/agrimon/internal/loader"
	"github.com/agrimon/agrimon/internal/logging"
	"github.com/agrimon/agrimon/internal/securestore"
)

// Version is set at build time via ldflags
var Version = "dev"

var suggestions = []prompt.Suggest{
	{Text: "sensors", Description: "sensors [prefix] - list sensor ids in the store"},
	{Text: "stats", Description: "stats <sensor> [window] - summary over trailing window (default 24h)"},
	{Text: "points", Description: "points <sensor> [start] [end] - raw decrypted points"},
	{Text: "aggregate", Description: "aggregate <sensor> <hour|day> [start] [end] - bucketed summaries"},
	{Text: "count", Description: "count [sensor] - stored row count"},
	{Text: "integrity", Description: "verify every stored row against its checksum"},
	{Text: "cleanup", Description: "cleanup <days> - delete rows older than N days"},
	{Text: "backup", Description: "backup <path> - copy the database"},
	{Text: "export", Description: "export <path> <hour|day> [start] [end] - write aggregate Parquet archive"},
	{Text: "help", Description: "show commands"},
	{Text: "exit", Description: "leave the shell"},
}

type shell struct {
	store *securestore.Store
}

func main() {
	dbPath := flag.String("db", "", "store database path (required)")
	keyFile := flag.String("key-file", "", "master key file (or AGRIMON_MASTER_KEY env)")
	flag.Parse()

	logging.Init(slog.LevelWarn, false)

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "agrimonctl: -db is required")
		os.Exit(1)
	}

	security := loader.SecurityConfig{MasterKeyEnv: "AGRIMON_MASTER_KEY"}
	if *keyFile != "" {
		security = loader.SecurityConfig{MasterKeyFile: *keyFile}
	}
	master, err := loader.MasterKey(&security)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agrimonctl: %v\n", err)
		os.Exit(1)
	}
	cipherKey, tagSecret, err := crypto.DeriveKeys(master)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agrimonctl: %v\n", err)
		os.Exit(1)
	}

	store, err := securestore.Open(securestore.Config{
		Path:      *dbPath,
		CipherKey: cipherKey,
		TagSecret: tagSecret,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agrimonctl: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	sh := &shell{store: store}
	fmt.Printf("agrimonctl %s - %s (type 'help' for commands)\n", Version, *dbPath)

	prompt.New(
		sh.execute,
		completer,
		prompt.OptionTitle("agrimonctl"),
		prompt.OptionPrefix("agrimon> "),
	).Run()
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	ctx := context.Background()

	var err error
	switch args[0] {
	case "sensors":
		err = s.sensors(ctx, args[1:])
	case "stats":
		err = s.stats(ctx, args[1:])
	case "points":
		err = s.points(ctx, args[1:])
	case "aggregate":
		err = s.aggregate(ctx, args[1:])
	case "count":
		err = s.count(ctx, args[1:])
	case "integrity":
		err = s.integrity(ctx)
	case "cleanup":
		err = s.cleanup(ctx, args[1:])
	case "backup":
		err = s.backup(ctx, args[1:])
	case "export":
		err = s.export(ctx, args[1:])
	case "help":
		for _, sg := range suggestions {
			fmt.Printf("  %-10s %s\n", sg.Text, sg.Description)
		}
	case "exit", "quit":
		s.store.Close()
		os.Exit(0)
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", args[0])
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func (s *shell) sensors(ctx context.Context, args []string) error {
	var (
		ids []string
		err error
	)
	if len(args) > 0 {
		ids, err = s.store.SensorsByPrefix(ctx, args[0])
	} else {
		ids, err = s.store.Sensors(ctx)
	}
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("store is empty")
		return nil
	}
	for _, id := range ids {
		n, err := s.store.Count(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("  %-24s %d points\n", id, n)
	}
	return nil
}

func (s *shell) stats(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stats <sensor> [window]")
	}
	window := 24 * time.Hour
	if len(args) > 1 {
		var err error
		if window, err = time.ParseDuration(args[1]); err != nil {
			return fmt.Errorf("bad window %q: %w", args[1], err)
		}
	}

	st, err := s.store.Statistics(ctx, args[0], window)
	if err != nil {
		return err
	}
	if st.Count == 0 {
		fmt.Printf("no points for %s in the last %s\n", args[0], window)
		return nil
	}
	fmt.Printf("count=%d mean=%.4g stddev=%.4g min=%.4g max=%.4g median=%.4g\n",
		st.Count, st.Mean, st.StdDev, st.Min, st.Max, st.Median)
	return nil
}

func (s *shell) points(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: points <sensor> [start] [end]")
	}
	start, end, err := timeRange(args, 1)
	if err != nil {
		return err
	}

	points, err := s.store.DataPoints(ctx, args[0], start, end)
	if err != nil {
		return err
	}
	for _, p := range points {
		fmt.Printf("  %s  %10g %-8s %v\n",
			p.Timestamp.Format(time.RFC3339), p.Value, p.Unit, p.Metadata)
	}
	fmt.Printf("%d points\n", len(points))
	return nil
}

func (s *shell) aggregate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: aggregate <sensor> <hour|day> [start] [end]")
	}
	start, end, err := timeRange(args, 2)
	if err != nil {
		return err
	}

	buckets, err := s.store.AggregatedData(ctx, args[0], start, end, args[1])
	if err != nil {
		return err
	}
	for _, b := range buckets {
		fmt.Printf("  %-16s count=%-5d mean=%-10.4g min=%-10.4g max=%-10.4g\n",
			b.Period, b.Summary.Count, b.Summary.Mean, b.Summary.Min, b.Summary.Max)
	}
	return nil
}

func (s *shell) count(ctx context.Context, args []string) error {
	sensorID := ""
	if len(args) > 0 {
		sensorID = args[0]
	}
	n, err := s.store.Count(ctx, sensorID)
	if err != nil {
		return err
	}
	fmt.Printf("%d rows\n", n)
	return nil
}

func (s *shell) integrity(ctx context.Context) error {
	ok, err := s.store.VerifyIntegrity(ctx)
	if err != nil {
		return err
	}
	if ok {
		fmt.Println("integrity check passed")
	} else {
		fmt.Println("INTEGRITY CHECK FAILED")
	}
	return nil
}

func (s *shell) cleanup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cleanup <days>")
	}
	days, err := strconv.Atoi(args[0])
	if err != nil || days <= 0 {
		return fmt.Errorf("bad day count %q", args[0])
	}

	deleted, err := s.store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d rows\n", deleted)
	return nil
}

func (s *shell) backup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: backup <path>")
	}
	if err := s.store.Backup(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("backup written to %s\n", args[0])
	return nil
}

func (s *shell) export(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: export <path> <hour|day> [start] [end]")
	}
	start, end, err := timeRange(args, 2)
	if err != nil {
		return err
	}

	rows, err := s.store.ExportArchive(ctx, args[0], start, end, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d aggregate rows to %s\n", rows, args[0])
	return nil
}

// timeRange parses optional [start] [end] arguments beginning at index
// i, defaulting to the trailing 24 hours.
func timeRange(args []string, i int) (time.Time, time.Time, error) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)

	if len(args) > i {
		t, err := iso8601.ParseString(args[i])
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad start %q: %w", args[i], err)
		}
		start = t
	}
	if len(args) > i+1 {
		t, err := iso8601.ParseString(args[i+1])
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad end %q: %w", args[i+1], err)
		}
		end = t
	}
	return start, end, nil
}
