package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/eda3/ecs-wasm-game3/internal/app"
)

func main() {
	var addr string
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{Addr: addr}); err != nil {
		log.Fatalf("%v", err)
	}
}
