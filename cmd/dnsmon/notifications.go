package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rsclarke/dnsmon/internal/db"
	"github.com/rsclarke/dnsmon/internal/notify"
	"github.com/spf13/cobra"
)

var notificationsFlags struct {
	limit     int
	verbose   bool
	olderThan time.Duration
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "List recorded notifications",
	Long:  `List notifications raised by the monitor, newest first.`,
	RunE:  runNotifications,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old notifications",
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(pruneCmd)

	notificationsCmd.Flags().IntVar(&notificationsFlags.limit, "limit", 20, "maximum number of notifications to list")
	notificationsCmd.Flags().BoolVarP(&notificationsFlags.verbose, "verbose", "v", false, "show the log text that raised each notification")
	pruneCmd.Flags().DurationVar(&notificationsFlags.olderThan, "older-than", 7*24*time.Hour, "delete notifications older than this")
}

func runNotifications(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	list, err := db.ListNotifications(database, notificationsFlags.limit)
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No notifications found.")
		return nil
	}

	fmt.Printf("%-19s  %-11s  %s\n", "CREATED", "SEVERITY", "MESSAGE")
	for _, n := range list {
		created := time.Unix(n.CreatedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Printf("%-19s  %-11s  %s\n", created, n.Severity, notify.Message(n.Key))
		if notificationsFlags.verbose && n.Text != "" {
			for _, line := range strings.Split(strings.TrimRight(n.Text, "\n"), "\n") {
				fmt.Printf("    %s\n", line)
			}
		}
	}

	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	cutoff := time.Now().Add(-notificationsFlags.olderThan).Unix()
	n, err := db.DeleteNotificationsBefore(database, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d notifications.\n", n)
	return nil
}
