package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghetzel/cli"
	"github.com/ghetzel/go-stockutil/typeutil"
	"github.com/ghetzel/shmipc/broker"
	"github.com/ghetzel/shmipc/segment"
	"github.com/ghetzel/shmipc/shm"
	log "github.com/sirupsen/logrus"
)

const DefaultLogLevel = `info`

func main() {
	app := cli.NewApp()
	app.Name = `shmrouter`
	app.Usage = `a broker for the zero-copy shared-memory chunk lifecycle`
	app.Version = shm.Version
	app.EnableBashCompletion = false
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   `log-level, L`,
			Usage:  `Level of logging verbosity`,
			Value:  DefaultLogLevel,
			EnvVar: `LOGLEVEL`,
		},
	}

	app.Before = func(c *cli.Context) error {
		if lvl := c.String(`log-level`); lvl != `` {
			if l, err := log.ParseLevel(lvl); err == nil {
				log.SetLevel(l)
			} else {
				log.Fatalf("invalid log level %q", lvl)
				return fmt.Errorf("%v", err)
			}
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:      `serve`,
			Usage:     `Create a named segment and keep it open until interrupted`,
			ArgsUsage: `NAME`,
			Flags: []cli.Flag{
				cli.StringFlag{Name: `reader-group, r`, Usage: `Group allowed to read the segment`},
				cli.StringFlag{Name: `writer-group, w`, Usage: `Group allowed to write the segment`},
				cli.StringFlag{Name: `chunk-size, s`, Usage: `Chunk size in bytes`, Value: `1024`},
				cli.StringFlag{Name: `capacity, c`, Usage: `Number of chunks in the pool`, Value: `256`},
			},
			Action: func(c *cli.Context) {
				if c.NArg() == 0 {
					log.Fatalf("must specify a segment name")
				}

				cfg := segment.Config{
					Name:        c.Args().First(),
					ReaderGroup: c.String(`reader-group`),
					WriterGroup: c.String(`writer-group`),
					Pools: []segment.PoolConfig{
						{
							ChunkSize: uint32(typeutil.V(c.String(`chunk-size`)).Int()),
							Capacity:  int(typeutil.V(c.String(`capacity`)).Int()),
						},
					},
				}

				mgr, err := segment.New([]segment.Config{cfg}, broker.ErrorSink{Log: log.StandardLogger()})
				if err != nil {
					log.Fatalf("failed to create segment: %v", err)
					return
				}
				defer mgr.Close()

				router := broker.New(mgr, log.StandardLogger())
				log.Infof("serving %d segment(s); %q has %d chunks of %d bytes",
					len(router.Segments().Segments()), cfg.Name, cfg.Pools[0].Capacity, cfg.Pools[0].ChunkSize)

				waitForSignal()
				log.Infof("shutting down")
			},
		},
		{
			Name:  `segments`,
			Usage: `Print the current user's name and group memberships`,
			Action: func(c *cli.Context) {
				principal, err := segment.CurrentPrincipal()
				if err != nil {
					log.Fatalf("failed to resolve current principal: %v", err)
					return
				}

				fmt.Printf("%s belongs to groups: %v\n", principal.Name, principal.Groups)
			},
		},
		{
			Name:      `stats`,
			Usage:     `Print the size in bytes of an existing segment`,
			ArgsUsage: `NAME`,
			Action: func(c *cli.Context) {
				if c.NArg() == 0 {
					log.Fatalf("must specify a segment name")
				}

				seg, err := shm.Open(c.Args().First())
				if err != nil {
					log.Fatalf("failed to open segment: %v", err)
					return
				}
				defer seg.Detach()

				fmt.Printf("%s: %d bytes\n", seg.Name, seg.Size)
			},
		},
	}

	app.Run(os.Args)
}

// waitForSignal blocks until the process receives SIGINT or SIGTERM.
func waitForSignal() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
