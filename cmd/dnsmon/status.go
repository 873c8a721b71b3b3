package main

import (
	"fmt"
	"time"

	"github.com/rsclarke/dnsmon/internal/db"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted daemon state",
	Long:  `Show whether the daemon is marked running, whether system DNS is allowed, and the latest notification.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	running, err := db.GetBool(database, models.PrefModuleRunning)
	if err != nil {
		return err
	}
	allowed, err := db.GetBool(database, models.PrefSystemDNSAllowed)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %s\n", "Mode:", cfg.Monitor.Mode)
	fmt.Printf("%-20s %t\n", "Daemon running:", running)
	fmt.Printf("%-20s %t\n", "System DNS allowed:", allowed)
	fmt.Printf("%-20s %s\n", "Daemon log:", cfg.Monitor.LogPath)

	latest, err := db.LatestNotification(database)
	if err != nil {
		return err
	}
	if latest == nil {
		fmt.Printf("%-20s %s\n", "Last notification:", "-")
		return nil
	}
	created := time.Unix(latest.CreatedAt, 0).Format("2006-01-02 15:04:05")
	fmt.Printf("%-20s %s %s (%s)\n", "Last notification:", created, latest.Key, latest.Severity)

	return nil
}
