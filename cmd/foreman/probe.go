package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hashpath/foreman/pkg/cgminer"
)

// Probe exit codes, stable for scripting
const (
	probeExitOK         = 0
	probeExitConnection = 1
	probeExitValidation = 2
	probeExitOther      = 3
)

var probeCmd = &cobra.Command{
	Use:   "probe HOST",
	Short: "Send one command to a miner's control API and print the reply",
	Long: `Probe opens a single JSON-over-TCP exchange with a miner and prints
the parsed reply as JSON.

Exit codes: 0 success, 1 connection failure, 2 invalid input or
unparseable reply, 3 anything else.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		host := args[0]
		port, _ := cmd.Flags().GetInt("port")
		command, _ := cmd.Flags().GetString("command")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client, err := cgminer.NewClient(cgminer.Config{
			Host:    host,
			Port:    port,
			Timeout: timeout,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(probeExitValidation)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
		defer cancel()

		reply, err := client.Call(ctx, command, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(probeExitCode(err))
		}

		out, err := json.MarshalIndent(reply, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(probeExitOther)
		}
		fmt.Println(string(out))
	},
}

func probeExitCode(err error) int {
	if errors.Is(err, cgminer.ErrInvalidInput) {
		return probeExitValidation
	}
	switch cgminer.KindOf(err) {
	case cgminer.KindConnection, cgminer.KindTimeout, cgminer.KindDNS:
		return probeExitConnection
	case cgminer.KindParse:
		return probeExitValidation
	default:
		return probeExitOther
	}
}

func init() {
	probeCmd.Flags().IntP("port", "p", cgminer.DefaultPort, "Control API port")
	probeCmd.Flags().StringP("command", "c", "version", "Whitelisted read command to send")
	probeCmd.Flags().Duration("timeout", 5*time.Second, "Per-connection timeout")
}
