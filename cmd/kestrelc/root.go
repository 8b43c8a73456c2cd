package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd is the base kestrelc command.
var rootCmd = &cobra.Command{
	Use:   "kestrelc",
	Short: "An x86-64 ELF64 codegen backend",
	Long: `kestrelc lowers a small statically-typed language to x86-64
machine code and assembles it into a Linux ELF64 executable, either
directly (object file + linker) or via a generated GAS assembly file
(assembler + linker).`,
}

// Execute runs the root command. Called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./kestrelc.yaml)")
	cobra.OnInitialize(initConfig)
}

// initConfig binds kestrelc.yaml (or a --config override) and the
// KESTRELC_-prefixed environment variables; compile reads
// KESTRELC_AS/KESTRELC_LD for internal/toolchain's assembler/linker
// discovery.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("kestrelc")
	}

	viper.SetEnvPrefix("kestrelc")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
