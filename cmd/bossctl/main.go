package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "bossctl",
	Short:         "bossctl - review generated tools from the terminal",
	Long:          `bossctl talks to the Boss Office API: list the review inbox, inspect jobs and their audit trail, approve, reject or send back generated tools, and requeue stuck jobs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	apiAddr    string
	reviewerID string
)

func init() {
	hostname, _ := os.Hostname()
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", envOr("BOSS_OFFICE_API", "http://127.0.0.1:8080"), "API server address")
	rootCmd.PersistentFlags().StringVar(&reviewerID, "reviewer", envOr("BOSS_OFFICE_REVIEWER", "cli@"+hostname), "Reviewer id sent with Boss actions")

	rootCmd.AddCommand(inboxCmd, showCmd, auditCmd, approveCmd, rejectCmd, reviseCmd, submitCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
