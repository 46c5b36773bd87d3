// Command partsfeed sweeps the pending directory for supplier feed files and
// reconciles them into the catalog database. Feeds are processed strictly in
// dependency order (category lookup, then catalog, then fitment); only the
// newest file per brand and feed type is imported, older ones are archived.
//
// With -vendor-products it instead runs a single vendor CSV import.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"partsfeed/internal/catalog"
	"partsfeed/internal/config"
	"partsfeed/internal/importer"
	"partsfeed/internal/logger"
	"partsfeed/internal/metrics"
	"partsfeed/internal/reconcile"
	"partsfeed/internal/store"
	"partsfeed/internal/transfer"
)

// feedOrder is the processing order within one sweep. Catalog imports need
// the lookup rows, fitment imports need the brand, so the order is fixed.
var feedOrder = map[importer.FeedType]int{
	importer.FeedCategoryLookup: 0,
	importer.FeedCatalog:        1,
	importer.FeedFitment:        2,
}

func main() {
	var vendorProducts, vendorFitment string
	flag.StringVar(&vendorProducts, "vendor-products", "", "vendor product CSV to import instead of sweeping")
	flag.StringVar(&vendorFitment, "vendor-fitment", "", "vendor fitment CSV (optional, with -vendor-products)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fatalf("build logger: %v", err)
	}
	defer log.Sync()

	db, err := store.Open(cfg.DatabaseDSN, log)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	if err := store.AutoMigrate(db); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}

	rec := metrics.NewRecorder()
	engine := reconcile.New(db, log, rec, reconcile.Sizes{
		ProductChunk:       cfg.ProductChunkSize,
		FitmentChunk:       cfg.FitmentChunkSize,
		CategoryChunk:      cfg.CategoryChunkSize,
		ScratchInsertChunk: cfg.ScratchInsertChunk,
	})
	tracker := importer.NewTracker(db)
	runner := importer.NewRunner(tracker, log, cfg.MaxImportAttempts)

	if vendorProducts != "" {
		if err := runVendor(engine, runner, vendorProducts, vendorFitment); err != nil {
			log.Error("vendor import failed", "error", err)
			os.Exit(1)
		}
		log.Info("vendor import done", "writes", rec.Summary())
		return
	}

	if err := sweep(cfg, log, engine, tracker, runner); err != nil {
		log.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	log.Info("sweep done", "writes", rec.Summary())
}

// sweep processes everything currently in the pending directory.
func sweep(cfg *config.Config, log *logger.Logger, engine *reconcile.Engine,
	tracker *importer.Tracker, runner *importer.Runner) error {

	src, err := transfer.NewLocalDirSource(cfg.PendingDir, cfg.ArchivedDir)
	if err != nil {
		return err
	}
	names, err := src.List()
	if err != nil {
		return err
	}

	var infos []importer.FileInfo
	for _, name := range names {
		info, err := importer.ParseFileName(name)
		if err != nil {
			log.Error("pending file rejected", "file", name, "error", err)
			continue
		}
		infos = append(infos, info)
	}

	current, stale := splitNewest(infos)
	for _, info := range stale {
		if err := archive(tracker, src, info); err != nil {
			return err
		}
		log.Info("stale file archived", "file", info.Name)
	}

	sort.SliceStable(current, func(i, j int) bool {
		return feedOrder[current[i].Type] < feedOrder[current[j].Type]
	})

	staged, err := transfer.StageAll(src, current, cfg.PrefetchWorkers, log)
	if err != nil {
		return err
	}

	for _, s := range staged {
		// Eligibility is checked per file at its turn: an earlier import in
		// this same sweep may have just satisfied its prerequisite.
		action, err := tracker.Action(s.Info)
		if err != nil {
			return err
		}
		switch action {
		case catalog.ActionArchive:
			if err := archive(tracker, src, s.Info); err != nil {
				return err
			}
			log.Info("already imported, archived", "file", s.Info.Name)
		case catalog.ActionNone:
			log.Info("prerequisite feed missing, leaving pending", "file", s.Info.Name)
		case catalog.ActionImport:
			if err := runFeed(engine, runner, src, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitNewest keeps only the newest file per brand and feed type; everything
// older comes back in stale.
func splitNewest(infos []importer.FileInfo) (current, stale []importer.FileInfo) {
	type slot struct {
		brand string
		feed  importer.FeedType
	}
	newest := make(map[slot]importer.FileInfo)
	for _, info := range infos {
		k := slot{info.BrandShortName, info.Type}
		best, ok := newest[k]
		if !ok || info.Date.After(best.Date) {
			if ok {
				stale = append(stale, best)
			}
			newest[k] = info
			continue
		}
		stale = append(stale, info)
	}
	for _, info := range newest {
		current = append(current, info)
	}
	return current, stale
}

// archive writes the audit row and moves the file out of pending.
func archive(tracker *importer.Tracker, src transfer.Source, info importer.FileInfo) error {
	row, err := tracker.Begin(info, catalog.ActionArchive)
	if err != nil {
		return err
	}
	if err := src.Archive(info.Name); err != nil {
		return err
	}
	return tracker.Finish(row, nil)
}

func runFeed(engine *reconcile.Engine, runner *importer.Runner,
	src transfer.Source, s *transfer.Staged) error {

	return runner.Run(importer.Job{
		Info: s.Info,
		Import: func(prog *reconcile.Progress) error {
			rc, err := s.OpenMember()
			if err != nil {
				return err
			}
			defer rc.Close()
			return importFeed(engine, s.Info, rc, prog)
		},
		OnComplete: func() error {
			return src.Archive(s.Info.Name)
		},
	})
}

func importFeed(engine *reconcile.Engine, info importer.FileInfo, r io.Reader, prog *reconcile.Progress) error {
	switch info.Type {
	case importer.FeedCategoryLookup:
		return engine.ImportCategoryLookup(r, info.BrandShortName, prog)
	case importer.FeedCatalog:
		return engine.ImportCatalog(r, info.BrandShortName, prog)
	case importer.FeedFitment:
		return engine.ImportFitment(r, info.BrandShortName, prog)
	}
	return fmt.Errorf("no importer for feed type %q", info.Type)
}

func runVendor(engine *reconcile.Engine, runner *importer.Runner, productsPath, fitmentPath string) error {
	return runner.Run(importer.Job{
		Info: importer.FileInfo{
			Name: productsPath,
			Date: time.Now().UTC(),
			Type: importer.FeedVendor,
		},
		Import: func(prog *reconcile.Progress) error {
			products, err := os.Open(productsPath)
			if err != nil {
				return err
			}
			defer products.Close()

			var fitment io.Reader
			if fitmentPath != "" {
				f, err := os.Open(fitmentPath)
				if err != nil {
					return err
				}
				defer f.Close()
				fitment = f
			}
			return engine.ImportVendorCatalog(products, fitment, prog)
		},
	})
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "partsfeed: "+format+"\n", args...)
	os.Exit(1)
}
