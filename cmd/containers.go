package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"botbuilder/internal/execution"
)

var (
	logsTail   int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs <container>",
	Short: "Print a bot container's logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := execution.NewDocker(cfg.Docker.Host)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := cmd.OutOrStdout()
		if !logsFollow {
			logs, err := rt.Logs(ctx, args[0], logsTail)
			if err != nil {
				return err
			}
			fmt.Fprint(out, logs)
			return nil
		}

		lines, errc := rt.StreamLogs(ctx, args[0], logsTail)
		for line := range lines {
			fmt.Fprintln(out, line)
		}
		return <-errc
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <container>",
	Short: "Stop a bot container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := execution.NewDocker(cfg.Docker.Host)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 100, "number of lines from the end of the logs")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new output")
}
