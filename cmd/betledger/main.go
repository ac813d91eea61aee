package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/config"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/metrics"
	"github.com/rewired-gh/betledger/internal/storage"
	"github.com/rewired-gh/betledger/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: betledger [-config path] <command> [flags]

Commands:
  seed       clear the roster, create the configured event and install its participants
  status     print the active event, tally, payable pool and escrow
  bet        place a bet (-as, -participant, -amount)
  advance    close betting early (BETTING -> ONGOING)
  start      close betting once the window has elapsed
  declare    declare the winner (-participant)
  settle     start settlement with the configured house share (-share overrides)
  claim      claim winning gambles (-as, -gamble)
  finalize   settle the event once the settling window elapsed (-wait retries)
  payouts    pay every claimed winning gamble its pro-rata winnings
  serve      run the HTTP API, metrics and the Telegram operator channel
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	os.Exit(execute())
}

// execute runs one command and returns the process exit code. Deferred
// cleanup runs before main exits.
func execute() int {

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxEvents, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	command, args := flag.Arg(0), flag.Args()[1:]

	var observers betting.Observers
	var collector *metrics.Collector
	var telegramClient *telegram.Client
	if command == "serve" {
		if cfg.Metrics.Enabled {
			collector = metrics.NewCollector("betledger")
			observers = append(observers, collector)
		}
		if cfg.Telegram.Enabled {
			telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
			if err != nil {
				logger.Fatal("Failed to initialize Telegram client: %v", err)
			}
			observers = append(observers, telegramClient)
			logger.Info("Telegram client initialized successfully")
		} else {
			logger.Debug("Telegram notifications disabled")
		}
	}

	engineCfg := betting.Config{Owner: cfg.OwnerIdentity(), Store: store}
	if len(observers) > 0 {
		engineCfg.Observer = observers
	}
	engine, err := betting.New(ctx, engineCfg)
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}

	a := &app{cfg: cfg, engine: engine, out: os.Stdout}
	if command == "serve" {
		err = a.serve(ctx, collector, telegramClient)
	} else {
		err = a.run(ctx, command, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", betting.KindOf(err), err)
		return 1
	}
	return 0
}
