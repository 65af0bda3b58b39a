/*
Copyright © 2026 Roman Natson <romnatson3@gmail.com>
*/
package cmd

import (
	"github.com/romnatson3/copy-trade/internal/bootstrap"
	"github.com/spf13/cobra"
)

// webhookGatewayCmd represents the webhook gateway command
var webhookGatewayCmd = &cobra.Command{
	Use:   "webhook-gateway",
	Short: "Serve the signal webhook and trading API",
	Long:  `The webhook gateway admits external trading signals over HTTP and exposes the manual position management endpoints.`,
	Run:   bootstrap.StartWebhookGateway,
}

func init() {
	rootCmd.AddCommand(webhookGatewayCmd)
}
