package main

import (
	"fmt"
	"os"
	"os/signal"

	"zkrollup-node/common"
	"zkrollup-node/config"
	"zkrollup-node/log"
	"zkrollup-node/node"

	"github.com/joho/godotenv"
	"github.com/urfave/cli"
)

const flagCfg = "cfg"

func waitSigInt() {
	stopCh := make(chan interface{})

	// catch ^C to send the stop signal
	ossig := make(chan os.Signal, 1)
	signal.Notify(ossig, os.Interrupt)
	const forceStopCount = 3
	go func() {
		n := 0
		for sig := range ossig {
			if sig == os.Interrupt {
				log.Info("Received Interrupt Signal")
				stopCh <- nil
				n++
				if n == forceStopCount {
					log.Fatalf("Received %v Interrupt Signals", forceStopCount)
				}
			}
		}
	}()
	<-stopCh
}

func cmdRun(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagCfg))
	if err != nil {
		return common.Wrap(fmt.Errorf("error loading configuration: %w", err))
	}
	log.Init(cfg.Log.Level, cfg.Log.Out)
	innerNode, err := node.NewNode(cfg)
	if err != nil {
		return common.Wrap(fmt.Errorf("error starting node: %w", err))
	}
	innerNode.Start()
	waitSigInt()
	innerNode.Stop()

	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Printf("\nError loading .env: %v\n", err)
	}

	app := cli.NewApp()
	app.Name = "zkrollup-node"
	app.Version = "v1"

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagCfg,
			Usage:    "Node configuration `FILE`",
			Required: false,
		},
	}

	app.Commands = []cli.Command{
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the zkrollup node",
			Action:  cmdRun,
			Flags:   flags,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Printf("\nError: %v\n", common.Wrap(err))
		os.Exit(1)
	}
}
