package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/db"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the gdscraper database",
	Long: `db - Manage the gdscraper database

Examples:
  gdscraper db migrate              # Apply pending migrations to the configured database
  gdscraper db migrate --path x.db  # Migrate another database file`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var migratePath string

func init() {
	dbMigrateCmd.Flags().StringVar(&migratePath, "path", "", "Database file (default database.path)")
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase(migratePath)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.Versions()
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Database schema up to date (%d migrations)", len(versions))
	return nil
}
