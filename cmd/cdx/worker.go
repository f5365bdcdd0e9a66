package main

import (
	"github.com/spf13/cobra"

	"github.com/coursedex/coursedex/internal/worker"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Execute reindex runs queued through NSQ",
	Long: `Consume reindex jobs from NSQ and execute them one at a time, until
interrupted.

Connects through nsq_lookupd when configured, otherwise straight to
nsqd_addr. Pair it with 'cdx config set dispatcher nsq' so that
'cdx reindex' queues runs instead of executing them.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	a := mustOpenApp()
	defer a.close()

	svc, cleanup := a.newReindexService(false, nil)
	defer cleanup()

	timeout := a.cfg.RunTimeout
	if timeout == 0 {
		timeout = a.cfg.LeaseTTL
	}
	// Runs may outlast the message timeout while their lease is renewed, so
	// the handler keeps the message in flight until the run ends.
	msgTimeout := worker.MessageTimeout(timeout)
	handler := worker.NewHandler(svc, a.logger, worker.WithTouchInterval(msgTimeout/2))
	err := worker.Consume(cmd.Context(), worker.ConsumerConfig{
		Topic:      a.cfg.NSQTopic,
		Channel:    a.cfg.NSQChannel,
		Lookupd:    a.cfg.NSQLookupd,
		NSQD:       a.cfg.NSQDAddr,
		MsgTimeout: msgTimeout,
	}, handler, a.logger)
	exitOnError(err, "worker")
	return nil
}
