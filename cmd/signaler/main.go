package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/meshcall/meshcall/internal/logger"
	"github.com/meshcall/meshcall/internal/signalserver"
	"github.com/meshcall/meshcall/internal/store"
)

func main() {
	addr := flag.String("addr", ":5000", "listen address")
	dbPath := flag.String("db", "signaler.sqlite3", "chat history database path")
	flag.Parse()

	log := logger.NewLogger()

	db, err := store.NewDB(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	messages := store.NewMessageStore(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := signalserver.NewServer(*addr, log, messages)
	if err := server.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
