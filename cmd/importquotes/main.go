// Command importquotes loads a CSV of tick,symbol,bid,ask rows into the pebble
// store as a named dataset that backtests can replay.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/uhyunpark/tickex/params"
	"github.com/uhyunpark/tickex/pkg/app/core/market"
	"github.com/uhyunpark/tickex/pkg/storage"
	"github.com/uhyunpark/tickex/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	var (
		name  = flag.String("name", "", "dataset name (required)")
		file  = flag.String("file", "", "CSV file, - for stdin")
		dir   = flag.String("dir", cfg.Storage.PebbleDir(), "pebble directory")
		start = flag.Int64("start", cfg.Sim.Start.Unix(), "unix seconds of tick 0")
		freq  = flag.Duration("freq", cfg.Sim.Frequency, "time between ticks")
	)
	flag.Parse()

	logger, err := util.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if *name == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			sugar.Fatalw("open_failed", "file", *file, "err", err)
		}
		defer f.Close()
		in = f
	}

	quotes, err := market.ReadCSV(in)
	if err != nil {
		sugar.Fatalw("parse_failed", "file", *file, "err", err)
	}

	store, err := storage.NewPebbleStore(*dir)
	if err != nil {
		sugar.Fatalw("store_open_failed", "dir", *dir, "err", err)
	}
	defer store.Close()

	meta, err := store.SaveDataset(*name, time.Unix(*start, 0).UTC(), *freq, quotes)
	if err != nil {
		sugar.Fatalw("import_failed", "dataset", *name, "err", err)
	}
	sugar.Infow("dataset_imported",
		"dataset", meta.Name,
		"symbols", meta.Symbols,
		"ticks", meta.Ticks,
		"quotes", meta.Quotes,
		"dir", *dir,
	)
}
