// Command granary is a thin command-line wrapper over the library: list
// stores and datasets, gather a range to CSV on stdout, and insert CSV
// from stdin. Date arguments may be naive; they are interpreted in the
// dataset's timezone.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/units"
	"github.com/araddon/dateparse"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/granary-db/granary"
	"github.com/granary-db/granary/backend"
	"github.com/granary-db/granary/codec"
	"github.com/granary-db/granary/depot"
	"github.com/granary-db/granary/filecache"
	"github.com/granary-db/granary/meta"
	"github.com/granary-db/granary/pkg/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "granary: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: granary <ls|gather|insert> [flags]")
	}
	switch args[0] {
	case "ls":
		return runLs(args[1:])
	case "gather":
		return runGather(args[1:])
	case "insert":
		return runInsert(args[1:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

type common struct {
	store     string
	workers   int
	verbose   bool
	logFile   string
	cacheSize string
}

func (c *common) flags(fs *flag.FlagSet) {
	fs.StringVar(&c.store, "store", "", "store id or ad-hoc store URI")
	fs.IntVar(&c.workers, "workers", 0, "worker pool size (1 disables concurrency)")
	fs.BoolVar(&c.verbose, "v", false, "debug logging")
	fs.StringVar(&c.logFile, "log", "", "log to this rotating file instead of stderr")
	fs.StringVar(&c.cacheSize, "cache-size", "", "cache ceiling, e.g. 4GB (default from configuration)")
}

func (c *common) depot() (*depot.Depot, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, err
	}
	opts := depot.Options{Logger: logger, Workers: c.workers}
	if c.cacheSize != "" {
		n, err := units.ParseBase2Bytes(c.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("cache-size: %w", err)
		}
		cache, err := filecache.New(filecache.Options{
			MaxBytes:   int64(n),
			Decompress: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Cache = cache
	}
	return depot.New(opts)
}

func (c *common) logger() (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c.verbose {
		level = zapcore.DebugLevel
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	sink := zapcore.AddSync(os.Stderr)
	if c.logFile != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.logFile,
			MaxSize:    100, // MB
			MaxBackups: 3,
		})
	}
	return zap.New(zapcore.NewCore(encoder, sink, level)), nil
}

func runLs(args []string) error {
	var c common
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	c.flags(fs)
	collection := fs.String("collection", "", "list this collection's datasets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.store == "" {
		registry, err := backend.Default()
		if err != nil {
			return err
		}
		for _, id := range registry.IDs() {
			fmt.Println(id)
		}
		return nil
	}
	d, err := c.depot()
	if err != nil {
		return err
	}
	ctx := context.Background()
	var names []string
	if *collection == "" {
		names, err = d.ListCollections(ctx, c.store)
	} else {
		names, err = d.ListDatasets(ctx, *collection, c.store)
	}
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runGather(args []string) error {
	var c common
	fs := flag.NewFlagSet("gather", flag.ContinueOnError)
	c.flags(fs)
	from := fs.String("from", "", "range start (naive dates use the dataset timezone)")
	to := fs.String("to", "", "range stop")
	cutoff := fs.String("cutoff", "", "latest-release cutoff for read-only archives")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: granary gather [flags] <collection> <dataset>")
	}
	collection, dataset := fs.Arg(0), fs.Arg(1)
	d, err := c.depot()
	if err != nil {
		return err
	}
	ctx := context.Background()
	start, stop, err := parseRange(ctx, d, collection, dataset, c.store, *from, *to)
	if err != nil {
		return err
	}
	opts := depot.GatherOptions{StoreID: c.store, Workers: c.workers}
	if *cutoff != "" {
		at, err := dateparse.ParseAny(*cutoff)
		if err != nil {
			return fmt.Errorf("cutoff: %w", err)
		}
		opts.Cutoff = at
	}
	tbl, _, err := d.Gather(ctx, collection, dataset, start, stop, opts)
	if err != nil {
		return err
	}
	b, err := codec.Encode(tbl, codec.CSV, codec.None)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(b)
	return err
}

// parseRange interprets the from/to arguments. Naive dates (no zone) are
// resolved in the dataset's timezone, looked up from its descriptor when
// a store is pinned and defaulting to UTC otherwise.
func parseRange(ctx context.Context, d *depot.Depot, collection, dataset, storeID, from, to string) (time.Time, time.Time, error) {
	loc := time.UTC
	if storeID != "" {
		if desc, err := describe(ctx, storeID, collection, dataset); err == nil {
			if l, err := desc.Location(); err == nil {
				loc = l
			}
		}
	}
	start, err := dateparse.ParseIn(from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	stop, err := dateparse.ParseIn(to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return start, stop, nil
}

func describe(ctx context.Context, storeID, collection, dataset string) (*meta.Descriptor, error) {
	registry, err := backend.Default()
	if err != nil {
		return nil, err
	}
	store, err := registry.Lookup(storeID)
	if err != nil {
		return nil, err
	}
	cache, err := filecache.Default()
	if err != nil {
		return nil, err
	}
	return meta.NewStore(storage.NewS3(), cache).Get(ctx, store, collection, dataset)
}

func runInsert(args []string) error {
	var c common
	fs := flag.NewFlagSet("insert", flag.ContinueOnError)
	c.flags(fs)
	indexKey := fs.String("index", "target_start", "index column of a new dataset")
	tz := fs.String("tz", "UTC", "timezone for naive timestamps in the input")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: granary insert [flags] <collection> <dataset> < input.csv")
	}
	if c.store == "" {
		return fmt.Errorf("insert requires -store")
	}
	collection, dataset := fs.Arg(0), fs.Arg(1)
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}
	tbl, err := codec.Decode(b, codec.CSV, codec.None)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return fmt.Errorf("tz: %w", err)
	}
	if err := zoneColumn(tbl, *indexKey, loc); err != nil {
		return err
	}
	d, err := c.depot()
	if err != nil {
		return err
	}
	return d.Insert(context.Background(), collection, dataset, tbl, c.store, depot.InsertOptions{Workers: c.workers})
}

// zoneColumn converts the index column's naive cells to zoned timestamps.
func zoneColumn(tbl *granary.Table, name string, loc *time.Location) error {
	col := tbl.Lookup(name)
	if col == nil {
		return fmt.Errorf("input has no column %q", name)
	}
	for i, v := range col.Values {
		switch v := v.(type) {
		case string:
			t, err := dateparse.ParseIn(v, loc)
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			col.Values[i] = t
		case int64:
			col.Values[i] = time.Unix(v, 0).In(loc)
		}
	}
	return nil
}
