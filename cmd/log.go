package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"workwatch/internal/eventlog"
)

var (
	logLimit int
	logYes   bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Inspect or clear the alert log",
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the most recent alert log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := loadManager()
		if err != nil {
			return err
		}
		backend, err := openLog(cmd.Context(), mgr.Get(), nil)
		if err != nil {
			return err
		}
		defer backend.close()

		entries, err := backend.store.Query(cmd.Context(), logLimit)
		if err != nil && !errors.Is(err, eventlog.ErrDegraded) {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No alerts logged.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TIME DETECTED\tWARNING CAUSE\tNAME")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.TimeDetected.Local().Format(eventlog.TimeLayout), e.Cause, e.Name)
		}
		return w.Flush()
	},
}

var logClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every alert log entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !logYes && !confirm(bufio.NewReader(os.Stdin), "Clear the alert log?") {
			fmt.Println("Aborted.")
			return nil
		}
		mgr, err := loadManager()
		if err != nil {
			return err
		}
		backend, err := openLog(cmd.Context(), mgr.Get(), nil)
		if err != nil {
			return err
		}
		defer backend.close()
		if err := backend.store.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Alert log cleared.")
		return nil
	},
}

func init() {
	logListCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "number of entries to show (default: log.max_entries)")
	logClearCmd.Flags().BoolVarP(&logYes, "yes", "y", false, "do not ask for confirmation")
	logCmd.AddCommand(logListCmd, logClearCmd)
	rootCmd.AddCommand(logCmd)
}

func confirm(reader *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
