package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/huangang/scamarena/backend/internal/config"
	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/internal/utils"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "competition",
	Short:        "Run scam generation and detection rounds",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("CONFIG_PATH")
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.Init(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	runCmd.Flags().IntP("emails", "n", 5, "Number of emails in the round")
	runCmd.Flags().Int("workflows", 0, "Concurrent item pipelines (0 keeps the configured value)")
	runCmd.Flags().String("created-by", "cli", "Operator recorded on the round")

	tokenCmd.Flags().String("username", "", "Operator name embedded in the token")
	tokenCmd.Flags().String("role", utils.RoleViewer, "Role: admin, reviewer or viewer")
	tokenCmd.Flags().Uint("user-id", 0, "Operator id embedded in the token")
	tokenCmd.Flags().Int("hours", 0, "Token lifetime in hours (0 uses jwt.expire_hour)")
	_ = tokenCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func openDB() (*gorm.DB, error) {
	db, err := models.Open(&cfg.Database, gormlogger.Error)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		_ = models.Close(db)
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one round in the foreground and print its summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		emails, _ := cmd.Flags().GetInt("emails")
		createdBy, _ := cmd.Flags().GetString("created-by")
		if workflows, _ := cmd.Flags().GetInt("workflows"); workflows > 0 {
			cfg.Competition.Workflows = workflows
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer models.Close(db)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store := services.NewStore(db)
		runner, err := services.NewArena(ctx, cfg, store, services.NewSyncQueue())
		if err != nil {
			return err
		}

		summary, err := runner.RunRound(ctx, emails, createdBy)
		if summary != nil {
			out, _ := json.MarshalIndent(summary, "", "  ")
			fmt.Println(string(out))
		}
		return err
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer models.Close(db)
		fmt.Printf("Migrated %s database\n", cfg.Database.Driver)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for an operator",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		role, _ := cmd.Flags().GetString("role")
		userID, _ := cmd.Flags().GetUint("user-id")
		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.JWT.ExpireHour
		}

		utils.SetJWTSecret(cfg.JWT.Secret)
		token, err := utils.GenerateToken(userID, username, role, hours)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}
