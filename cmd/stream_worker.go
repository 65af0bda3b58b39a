/*
Copyright © 2026 Roman Natson <romnatson3@gmail.com>
*/
package cmd

import (
	"github.com/romnatson3/copy-trade/internal/bootstrap"
	"github.com/spf13/cobra"
)

// streamWorkerCmd represents the stream worker command
var streamWorkerCmd = &cobra.Command{
	Use:   "stream-worker",
	Short: "Run the exchange websocket streams",
	Long:  `The stream worker keeps the mark price stream and the master account user data stream connected, feeding the mirror store and the replication queues.`,
	Run:   bootstrap.StartStreamWorker,
}

func init() {
	rootCmd.AddCommand(streamWorkerCmd)
}
