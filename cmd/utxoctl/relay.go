package main

import (
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/chain"
	"zkutxo/internal/relayer"
)

var listenFlag = &cli.StringFlag{
	Name:  "listen",
	Usage: "address to serve on (defaults to relayer.listen)",
}

var commandRelay = &cli.Command{
	Name:  "relay",
	Usage: "run a relayer over the ledger file",
	Description: `
Serve paths.ledger to other clients: they submit transactions to it and scan
its outputs by setting relayer.url. Transactions paying less than
relayer.min_fee are refused.`,
	Flags: []cli.Flag{listenFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		ledger, err := chain.LoadOrCreateLedger(e.cfg.Paths.Ledger)
		if err != nil {
			return err
		}
		addr := c.String(listenFlag.Name)
		if addr == "" {
			addr = e.cfg.Relayer.Listen
		}

		ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ready := make(chan net.Addr, 1)
		go func() {
			if a, ok := <-ready; ok {
				fmt.Fprintf(c.App.Writer, "relayer listening on http://%s\n", a)
			}
		}()
		srv := relayer.NewServer("utxoctl", ledger, e.cfg.Paths.Ledger, e.cfg.Relayer.MinFee, e.log.Component("relayer"))
		return srv.ListenAndServe(ctx, addr, ready)
	},
}
