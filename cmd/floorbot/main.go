// Command floorbot runs the position and profit-floor trading engine. It
// loads and validates configuration, wires dependencies, and runs the
// configured mode until SIGINT or SIGTERM.
//
// "floorbot seal-key -family evm -out wallet.key" reads a raw key from stdin
// and writes an encrypted key file using FLOORBOT_WALLET_KEY_PASSWORD.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/profitfloor/internal/app"
	"github.com/alanyoungcy/profitfloor/internal/config"
	"github.com/alanyoungcy/profitfloor/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "seal-key" {
		if err := sealKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "seal-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (trade, monitor, server, reconcile)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !isFlagSet("config") {
		// Defaults plus environment are enough for a container deployment.
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("floorbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", path),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("floorbot stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func sealKey(args []string) error {
	fs := flag.NewFlagSet("seal-key", flag.ContinueOnError)
	family := fs.String("family", "evm", "key family: evm or solana")
	out := fs.String("out", "", "path of the encrypted key file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	password := os.Getenv("FLOORBOT_WALLET_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("FLOORBOT_WALLET_KEY_PASSWORD must be set")
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read key from stdin: %w", err)
	}
	sealed, address, err := crypto.SealWalletKey(crypto.KeyFamily(*family), strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, sealed, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s wallet %s\n", *out, *family, address)
	return nil
}
