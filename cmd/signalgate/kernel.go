package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	applog "github.com/sawpanic/signalgate/internal/log"
)

func newKernelCmd() *cobra.Command {
	kernelCmd := &cobra.Command{
		Use:   "kernel",
		Short: "Inspect or command the trading kernel",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Poll the kernel once and print the health view as JSON",
		RunE:  runKernelStatus,
	}
	statusCmd.Flags().String("kernel-url", "", "Trading kernel base URL (overrides config)")
	statusCmd.Flags().String("redis-addr", "", "Transparency channel redis address (overrides config)")

	panicCmd := &cobra.Command{
		Use:   "panic",
		Short: "Send an emergency stop to the kernel",
		RunE:  runKernelPanic,
	}
	panicCmd.Flags().String("kernel-url", "", "Trading kernel base URL (overrides config)")
	panicCmd.Flags().String("reason", "manual emergency stop", "Reason recorded with the stop")
	panicCmd.Flags().String("user", "cli", "Operator id recorded with the stop")

	kernelCmd.AddCommand(statusCmd, panicCmd)
	return kernelCmd
}

func runKernelStatus(cmd *cobra.Command, args []string) error {
	monitor, rdb := newKernelMonitor(appConfig.Kernel, nil)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	return printJSON(cmd, monitor.Poll(ctx))
}

func runKernelPanic(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	user, _ := cmd.Flags().GetString("user")

	monitor, rdb := newKernelMonitor(appConfig.Kernel, nil)
	defer rdb.Close()

	applog.Audit("kernel_panic").
		Str("user", user).
		Str("ip", "cli").
		Str("reason", reason).
		Msg("Emergency stop requested")

	ctx, cancel := context.WithTimeout(cmd.Context(), appConfig.Kernel.PanicTimeout+5*time.Second)
	defer cancel()

	res := monitor.TriggerPanic(ctx, user, reason)
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("kernel rejected emergency stop: %s", res.Message)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
