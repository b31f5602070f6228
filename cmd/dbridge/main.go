package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sadopc/dbridge/internal/cli"

	_ "github.com/sadopc/dbridge/internal/adapter/mysql"
	_ "github.com/sadopc/dbridge/internal/adapter/postgres"
	_ "github.com/sadopc/dbridge/internal/adapter/sqlite"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version, cli.GitCommit, cli.BuildDate = version, commit, date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
