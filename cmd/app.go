package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database/postgres"
	"github.com/kozaktomas/face-matcher/internal/faceclient"
	"github.com/kozaktomas/face-matcher/internal/matcher"
	"github.com/kozaktomas/face-matcher/internal/recognizer"
	"github.com/kozaktomas/face-matcher/internal/seed"
)

// app wires the components shared by the commands.
type app struct {
	cfg        *config.Config
	pool       *postgres.Pool
	store      *postgres.IdentityRepository
	client     *faceclient.Client
	index      *matcher.HNSWIndex
	recognizer *recognizer.Recognizer
}

type appOptions struct {
	requireDatabase bool
	// loadSeed enrolls KNOWN_FACES_FILE into the registry.
	loadSeed bool
	// useIndex honours MATCH_INDEX=hnsw.
	useIndex bool
	// threshold overrides MATCH_THRESHOLD when positive.
	threshold float64
	// readOnly keeps enrollments, seed faces included, out of PostgreSQL.
	readOnly bool
}

// openStore connects to PostgreSQL and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.IdentityRepository, error) {
	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return pool, postgres.NewIdentityRepository(pool), nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.requireDatabase && !cfg.HasDatabase() {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	a := &app{cfg: cfg}
	registry := matcher.NewRegistry(cfg.FaceService.EmbeddingDim)

	if cfg.HasDatabase() {
		pool, store, err := openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool, a.store = pool, store

		n, err := recognizer.LoadRegistry(ctx, store, registry)
		if err != nil && !isSkippedFaceError(err) {
			a.Close()
			return nil, fmt.Errorf("failed to load identities: %w", err)
		}
		if err != nil {
			fmt.Printf("Warning: some stored identities were skipped:\n%v\n", err)
		}
		fmt.Printf("Loaded %d identities from PostgreSQL\n", n)
	}

	threshold := cfg.Matcher.Threshold
	if opts.threshold > 0 {
		threshold = opts.threshold
	}
	var matcherOpts []matcher.Option
	if opts.useIndex && cfg.Matcher.Index == config.IndexHNSW {
		a.index = matcher.NewHNSWIndex()
		matcherOpts = append(matcherOpts, matcher.WithHNSW(a.index))
	}

	a.client = faceclient.NewClient(cfg.FaceService.URL, faceclient.WithMinDetScore(cfg.FaceService.MinDetScore))
	recOpts := []recognizer.Option{
		recognizer.WithMaxImageSize(cfg.FaceService.MaxImageSize),
		recognizer.WithMaxPixels(cfg.FaceService.MaxPixels),
	}
	if a.store != nil && !opts.readOnly {
		recOpts = append(recOpts, recognizer.WithStore(a.store))
	}
	a.recognizer = recognizer.New(a.client, matcher.NewMatcher(registry, threshold, matcherOpts...), recOpts...)

	if opts.loadSeed && cfg.KnownFacesFile != "" {
		if err := a.loadSeed(ctx, cfg.KnownFacesFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	if a.index != nil {
		a.initHNSW()
	}
	return a, nil
}

// isSkippedFaceError reports whether err only describes faces rejected by the registry.
func isSkippedFaceError(err error) bool {
	return errors.Is(err, matcher.ErrDimensionMismatch) ||
		errors.Is(err, matcher.ErrDuplicateID) ||
		errors.Is(err, matcher.ErrInvalidFace)
}

// loadSeed enrolls the faces of a seed file in file order.
func (a *app) loadSeed(ctx context.Context, path string) error {
	file, err := seed.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load known faces: %w", err)
	}

	report := seed.Apply(ctx, a.recognizer, file.Faces, 1, nil)
	fmt.Printf("Known faces from %s: %d enrolled, %d already registered\n", path, report.Enrolled, report.Skipped)
	for _, e := range report.Errors {
		fmt.Printf("  Warning: %v\n", e)
	}
	return nil
}

// initHNSW loads the persisted HNSW index or builds a new one.
func (a *app) initHNSW() {
	faces := a.recognizer.Matcher().Registry().Snapshot()
	path := a.cfg.Matcher.HNSWIndexPath

	if path != "" {
		fmt.Printf("Loading face HNSW index from %s...\n", path)
		loaded, err := a.index.Load(path, faces)
		if err != nil {
			fmt.Printf("Warning: failed to load HNSW index: %v\n", err)
		}
		if loaded {
			fmt.Printf("Face HNSW index ready with %d faces (persisted to %s)\n", a.index.Count(), path)
			return
		}
		a.index.SetPath(path)
	}

	if err := a.index.Build(faces); err != nil {
		fmt.Printf("Warning: failed to build face HNSW index: %v\n", err)
		fmt.Printf("Matching will fall back to a linear scan\n")
		return
	}
	if path != "" {
		fmt.Printf("Face HNSW index built with %d faces (persisted to %s)\n", a.index.Count(), path)
	} else {
		fmt.Printf("Face HNSW index built with %d faces (in-memory only)\n", a.index.Count())
	}
}

// Close saves the HNSW index and releases the database pool.
func (a *app) Close() {
	if a.index != nil && a.index.Path() != "" {
		if err := a.index.Save(); err != nil {
			fmt.Printf("Warning: failed to save face HNSW index: %v\n", err)
		} else {
			fmt.Println("Face HNSW index saved to disk")
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
}
