package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sable-sec/loom/agent"
	"github.com/sable-sec/loom/secret"
	"github.com/sable-sec/loom/shell"

	"go.uber.org/zap"
)

func main() {
	host := flag.String("host", agent.DefaultHost, "listener address to dial")
	port := flag.Uint("port", uint(agent.DefaultPort), "listener port to dial")
	keyText := flag.String("key", os.Getenv("LOOM_KEY"), "session key in base64, as printed by the listener")
	passphrase := flag.String("passphrase", os.Getenv("LOOM_PASSPHRASE"), "derive the session key from a passphrase instead")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var key secret.Key
	switch {
	case *passphrase != "":
		key = secret.FromPassphrase(*passphrase)
	case *keyText != "":
		key, err = secret.Parse(*keyText)
		if err != nil {
			logger.Fatal("loading key", zap.Error(err))
		}
	default:
		logger.Fatal("loading key", zap.String("reason", "one of -key or -passphrase is required"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := agent.DefaultOptions().
		WithLogger(logger).
		WithHost(*host).
		WithPort(uint16(*port))
	a := agent.New(opts, key, shell.NewRunner())
	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("running agent", zap.Error(err))
	}
}
