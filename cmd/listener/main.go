package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sable-sec/loom/listener"
	"github.com/sable-sec/loom/secret"

	"go.uber.org/zap"
)

func main() {
	host := flag.String("host", listener.DefaultHost, "address to bind")
	port := flag.Uint("port", uint(listener.DefaultPort), "port to bind")
	keyText := flag.String("key", os.Getenv("LOOM_KEY"), "session key in base64; generated when empty")
	passphrase := flag.String("passphrase", os.Getenv("LOOM_PASSPHRASE"), "derive the session key from a passphrase instead")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	key, err := loadKey(*keyText, *passphrase)
	if err != nil {
		logger.Fatal("loading key", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := listener.DefaultOptions().
		WithLogger(logger).
		WithHost(*host).
		WithPort(uint16(*port))
	l := listener.New(opts, key, listener.NewTerminalPrompt(os.Stdin, os.Stdout))
	if err := l.Listen(ctx); err != nil && err != context.Canceled {
		logger.Fatal("listening", zap.Error(err))
	}
}

func loadKey(keyText, passphrase string) (secret.Key, error) {
	switch {
	case passphrase != "":
		return secret.FromPassphrase(passphrase), nil
	case keyText != "":
		return secret.Parse(keyText)
	default:
		return secret.Generate()
	}
}
