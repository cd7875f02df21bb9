package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

var callInput string

var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Invoke a tool registered on the cluster",
	Long: `Create a job for the named tool, wait for a machine to pick it up,
and print the result as JSON. Input is passed with --input as a JSON object.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callInput, "input", "i", "{}", "tool input as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(callInput), &input); err != nil {
		return fmt.Errorf("--input must be a JSON object: %w", err)
	}

	c, cfg, cleanup, err := buildClient()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := c.CallToolWithOptions(ctx, args[0], input, transport.PollOptions{
		WaitSeconds:   cfg.Call.WaitSeconds,
		MaxRetries:    cfg.Call.MaxRetries,
		RetryInterval: time.Duration(cfg.Call.RetryIntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
