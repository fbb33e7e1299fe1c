// cmd/scanner/cmd/init.go
package cmd

import (
	"mealcheck/cmd/scanner/cmd/sync"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(issueCmd)
	rootCmd.AddCommand(sync.SyncCmd)
}
