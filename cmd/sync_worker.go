/*
Copyright © 2026 Roman Natson <romnatson3@gmail.com>
*/
package cmd

import (
	"github.com/romnatson3/copy-trade/internal/bootstrap"
	"github.com/spf13/cobra"
)

// syncWorkerCmd represents the sync worker command
var syncWorkerCmd = &cobra.Command{
	Use:   "sync-worker",
	Short: "Reconcile the mirror store against the exchange",
	Long:  `The sync worker periodically pulls balances, positions, open orders and symbol metadata from the exchange and reconciles the local mirror against them.`,
	Run:   bootstrap.StartSyncWorker,
}

func init() {
	rootCmd.AddCommand(syncWorkerCmd)
}
