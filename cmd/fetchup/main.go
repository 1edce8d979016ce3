package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	fetchup "github.com/sleepcha/Fetchup"
	"github.com/sleepcha/Fetchup/config"
)

var (
	// CLI flags
	configFlag   string
	baseFlag     string
	modeFlag     string
	cachedFlag   bool
	removeFlag   bool
	maxAgeFlag   time.Duration
	parallelFlag int
	queryFlag    queryParams
	versionFlag  bool
)

// queryParams collects repeated -q key=value flags.
type queryParams map[string]string

func (q queryParams) String() string {
	pairs := make([]string, 0, len(q))
	for k, v := range q {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, "&")
}

func (q queryParams) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	q[key] = value
	return nil
}

func init() {
	queryFlag = make(queryParams)
	flag.StringVar(&configFlag, "config", "", "YAML config file (default: FETCHUP_* environment)")
	flag.StringVar(&baseFlag, "base", "", "Base URL (overrides config)")
	flag.StringVar(&modeFlag, "mode", "", "Cache mode: policy, manual or disabled (overrides config)")
	flag.BoolVar(&cachedFlag, "cached", false, "Read from the manual cache instead of the network")
	flag.BoolVar(&removeFlag, "remove", false, "Remove the manual cache entry")
	flag.DurationVar(&maxAgeFlag, "max-age", 0, "With -cached: reject entries older than this")
	flag.IntVar(&parallelFlag, "parallel", 4, "Maximum concurrent fetches")
	flag.Var(queryFlag, "q", "Query parameter key=value (repeatable)")
	flag.BoolVar(&versionFlag, "version", false, "Print version and exit")
}

func main() {
	flag.Parse()

	if versionFlag {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := cfg.NewLogger(os.Stderr)

	paths := flag.Args()
	if len(paths) == 0 {
		logger.Fatal().Msg("Please specify at least one path")
	}

	mode := cfg.Mode()
	if modeFlag != "" {
		if mode, err = fetchup.ParseCacheMode(modeFlag); err != nil {
			logger.Fatal().Err(err).Msg("Invalid cache mode")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Cannot open cache store")
	}
	defer closeStore()

	client := fetchup.New(cfg.ClientOptions(store, logger)...)
	if !client.IsValid() {
		logger.Fatal().Err(client.ValidationError()).Msg("Invalid client configuration")
	}

	if err := run(ctx, client, mode, paths, logger); err != nil {
		logger.Error().Err(err).Msg("Fetch failed")
		closeStore()
		os.Exit(1)
	}
}

// printVersion writes one "key: value" line per build metadata field.
func printVersion(w io.Writer) {
	info := fetchup.GetVersionInfo()
	fmt.Fprintf(w, "fetchup %s\n", info[fetchup.VersionKey])
	for _, key := range []string{fetchup.CommitKey, fetchup.BuildDateKey, fetchup.GoVersionKey} {
		fmt.Fprintf(w, "  %s: %s\n", key, info[key])
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag != "" {
		cfg, err = config.LoadFile(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if baseFlag != "" {
		cfg.BaseURL = baseFlag
	}
	return cfg, nil
}

func run(ctx context.Context, client *fetchup.Client, mode fetchup.CacheMode, paths []string, logger zerolog.Logger) error {
	var outMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelFlag)

	for _, path := range paths {
		path := path
		resource := fetchup.Resource[[]byte]{
			Descriptor: fetchup.Descriptor{Path: path, Query: queryFlag},
			Decode:     fetchup.Bytes,
		}

		g.Go(func() error {
			body, err := execute(ctx, client, mode, resource)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if body == nil {
				logger.Info().Str("path", path).Msg("Cache entry removed")
				return nil
			}

			outMu.Lock()
			defer outMu.Unlock()
			_, err = os.Stdout.Write(body)
			return err
		})
	}

	return g.Wait()
}

func execute(ctx context.Context, client *fetchup.Client, mode fetchup.CacheMode, resource fetchup.Resource[[]byte]) ([]byte, error) {
	switch {
	case removeFlag:
		return nil, client.RemoveCached(ctx, resource)
	case cachedFlag:
		var isValid func(time.Time) bool
		if maxAgeFlag > 0 {
			isValid = client.MaxAge(maxAgeFlag)
		}
		return fetchup.Cached(ctx, client, resource, isValid)
	default:
		return fetchup.Fetch(ctx, client, resource, mode)
	}
}
