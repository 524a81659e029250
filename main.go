package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/gitzhang10/mysticeti/node"
)

var conf *config.Config
var err error

func init() {
	conf, err = config.LoadConfig("", "config")
	if err != nil {
		panic(err)
	}
	if err = conf.Validate(); err != nil {
		panic(err)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	n, err := node.NewNode(conf)
	if err != nil {
		return err
	}
	if err = n.StartP2PListen(); err != nil {
		return err
	}
	defer n.Close()
	// wait for each node to start
	time.Sleep(time.Second * 15)
	if err = n.EstablishP2PConns(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Println("node starts the Mysticeti DAG!")
	return n.Run(ctx)
}
