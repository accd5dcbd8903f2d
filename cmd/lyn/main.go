package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ElizaSystems/lyn-sub001/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "lyn",
	Short: "Recurring task engine for crypto security and market monitoring",
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("No .env file found or failed to load: %v. Proceeding with environment variables.\n", err)
	}
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
