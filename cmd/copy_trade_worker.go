/*
Copyright © 2026 Roman Natson <romnatson3@gmail.com>
*/
package cmd

import (
	"github.com/romnatson3/copy-trade/internal/bootstrap"
	"github.com/spf13/cobra"
)

// copyTradeWorkerCmd represents the copy trade worker command
var copyTradeWorkerCmd = &cobra.Command{
	Use:   "copy-trade-worker",
	Short: "Replicate master activity onto follower accounts",
	Long:  `The copy trade worker consumes the replication and position queues: it mirrors master orders onto every follower and places protective orders after each position opens.`,
	Run:   bootstrap.StartCopyTradeWorker,
}

func init() {
	rootCmd.AddCommand(copyTradeWorkerCmd)
}
