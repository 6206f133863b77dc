package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/hushtype/hushtype/internal/provision"
	"github.com/hushtype/hushtype/pkg/events"
)

func main() {
	var (
		family   = flag.String("family", "whisper", "model family (whisper, parakeet)")
		modelID  = flag.String("model", "", "model id from the catalog (default: family default)")
		cacheDir = flag.String("cache-dir", "", "cache root (default: platform user cache dir)")
		list     = flag.Bool("list", false, "list catalog models and exit")
	)
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))

	catalog, err := provision.LoadCatalog()
	if err != nil {
		log.Fatalf("loading catalog: %v", err)
	}

	root := *cacheDir
	if root == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			log.Fatalf("resolving cache dir: %v", err)
		}
		root = filepath.Join(base, "hushtype")
	}
	prov := provision.New(root, logger, events.NewPublisher("modelfetch"))

	if *list {
		for _, m := range catalog.Models {
			mark := " "
			if prov.IsInstalled(&m) {
				mark = "*"
			}
			fmt.Printf("%s %-20s %-10s %s (%d MB)\n",
				mark, m.ID, m.Family, m.DisplayName, m.TotalBytes()/(1<<20))
		}
		return
	}

	var model *provision.Model
	var ok bool
	if *modelID != "" {
		model, ok = catalog.Model(*family, *modelID)
	} else {
		model, ok = catalog.DefaultModel(*family)
	}
	if !ok {
		log.Fatalf("no catalog entry for family %q model %q", *family, *modelID)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = prov.EnsureModel(ctx, model, func(done, total int64) {
		if total > 0 {
			fmt.Fprintf(os.Stderr, "\r%s: %d/%d MB (%d%%)",
				model.ID, done/(1<<20), total/(1<<20), done*100/total)
		}
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("fetching %s: %v", model.ID, err)
	}
	logger.Info("model installed",
		slog.String("model", model.ID),
		slog.String("dir", prov.ModelDir(model.Family, model.ID)),
	)
}
