// Command nchan-rsck runs the storage engine's consistency check against a
// running deployment and prints a colorized report, one shard at a time.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/float001/nchan/lib/config"
	"github.com/float001/nchan/lib/logging"
	"github.com/float001/nchan/lib/storeredis"
)

func main() {
	configPath := flag.String("config", "nchan.toml", "path to the engine's TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Level(), func(e logging.Entry) {
		fmt.Fprintf(os.Stderr, "[%s] %s %v\n", logging.LevelString(e.Level), e.Message, e.Fields)
	})

	engineCfg, err := cfg.EngineConfig(logger)
	if err != nil {
		return err
	}

	engine, err := storeredis.New(engineCfg)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer engine.Close()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	cyan.Println("nchan consistency check")
	cyan.Println("-----------------------")

	failed := false
	for i := 0; i < engine.ShardCount(); i++ {
		report, err := engine.CheckConsistencyOnShard(i)
		if err != nil {
			failed = true
			red.Printf("shard %d: error: %v\n", i, err)
			continue
		}
		if report.OK {
			green.Printf("shard %d: OK - %s\n", i, report.Summary)
			continue
		}
		failed = true
		yellow.Printf("shard %d: %s\n", i, report.Summary)
		for _, v := range report.Violations {
			fmt.Printf("  - %s\n", v)
		}
	}

	if failed {
		os.Exit(1)
	}
	return nil
}
