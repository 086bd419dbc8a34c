// Command lsmkvctl is a one-shot CLI over a single lsmkv store directory.
// It is a thin client of pkg/lsm — it holds no engine logic of its own.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/dd0wney/lsmkv/pkg/logging"
	"github.com/dd0wney/lsmkv/pkg/lsm"
	"github.com/dd0wney/lsmkv/pkg/lsmkvconfig"
	"github.com/dd0wney/lsmkv/pkg/metrics"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	dir := flag.String("dir", "./data/lsmkv", "store directory")
	threshold := flag.Uint64("threshold", 4*1024*1024, "flush threshold in bytes")
	configPath := flag.String("config", "", "YAML config file (overrides -dir and -threshold)")
	flag.CommandLine.Parse(os.Args[2:])

	requestID := uuid.NewString()
	log := logging.DefaultLogger().With(logging.String("request_id", requestID))

	opts := lsmkvconfig.DefaultOptions(*dir)
	opts.Threshold = *threshold
	if *configPath != "" {
		loaded, err := lsmkvconfig.LoadOptions(*configPath)
		if err != nil {
			log.Error("config load failed", logging.Path(*configPath), logging.Error(err))
			os.Exit(1)
		}
		opts = loaded
	}
	if opts.LogLevel != "" {
		log.SetLevel(logging.ParseLevel(opts.LogLevel))
	}

	storeOpts := []lsm.Option{lsm.WithLogger(log)}
	if opts.Metrics.Enabled {
		storeOpts = append(storeOpts, lsm.WithMetrics(metrics.DefaultRegistry()))
	}

	if _, err := os.Stat(opts.Directory); os.IsNotExist(err) {
		if err := lsm.Create(opts.Directory); err != nil {
			log.Error("create failed", logging.Error(err))
			os.Exit(1)
		}
	}

	store, err := lsm.Open(opts.Directory, opts.Threshold, storeOpts...)
	if err != nil {
		log.Error("open failed", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	switch os.Args[1] {
	case "put":
		runPut(store, log)
	case "get":
		runGet(store, log)
	case "range":
		runRange(store, log)
	default:
		usage()
		os.Exit(1)
	}
}

func runPut(store *lsm.Store, log logging.Logger) {
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: lsmkvctl put [-dir DIR] [-threshold N] [-config FILE] <key> <value>")
		os.Exit(1)
	}
	if err := store.Put([]byte(args[0]), []byte(args[1])); err != nil {
		log.Error("put failed", logging.Error(err))
		os.Exit(1)
	}
	if err := store.Sync(); err != nil {
		log.Error("sync failed", logging.Error(err))
		os.Exit(1)
	}
}

func runGet(store *lsm.Store, log logging.Logger) {
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: lsmkvctl get [-dir DIR] [-threshold N] [-config FILE] <key>")
		os.Exit(1)
	}
	value, ok, err := store.Get([]byte(args[0]))
	if err != nil {
		log.Error("get failed", logging.Error(err))
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println(string(value))
}

func runRange(store *lsm.Store, log logging.Logger) {
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: lsmkvctl range [-dir DIR] [-threshold N] [-config FILE] <lower> <upper>")
		os.Exit(1)
	}
	iv := lsm.Interval{
		Lower: lsm.IncludedBound([]byte(args[0])),
		Upper: lsm.ExcludedBound([]byte(args[1])),
	}
	it, err := store.Range(iv)
	if err != nil {
		log.Error("range failed", logging.Error(err))
		os.Exit(1)
	}
	for {
		key, value, ok, err := it.Next()
		if err != nil {
			log.Error("range step failed", logging.Error(err))
			os.Exit(1)
		}
		if !ok {
			return
		}
		fmt.Printf("%s=%s\n", key, value)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lsmkvctl <put|get|range> [-dir DIR] [-threshold N] [-config FILE] ...")
}
