package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"interfaces", "List the ports known to the daemon"},
	{"profile list", "List all traffic profiles"},
	{"profile show <name>", "Show details of a traffic profile"},
	{"profile create <name> --src-port ...", "Create a traffic profile"},
	{"profile enable <name>", "Start sending a profile"},
	{"profile disable <name>", "Stop sending a profile"},
	{"traffic start / stop", "Start or stop all enabled profiles"},
	{"stats", "Show the counter snapshot"},
	{"presets", "List impairment presets"},
	{"neighbors [iface...]", "Probe and show neighbors"},
	{"bench start <profile>", "Run an RFC 2544 benchmark"},
	{"workload list", "Show auxiliary workloads"},
	{"monitor", "Watch live send rates"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gotgenctl shell",
		Long:  "Launches a simple REPL that accepts gotgenctl subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			printShellBanner()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("gotgenctl> ")

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp()
				case line != "":
					args := strings.Fields(line)
					rootCmd.SetArgs(args)

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(os.Stderr, "Error:", err)
					}
				}

				fmt.Print("gotgenctl> ")
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			return nil
		},
	}
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner() {
	fmt.Println("gotgen interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Println()
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()

	for _, cmd := range shellCommands {
		fmt.Printf("  %-38s %s\n", cmd.name, cmd.desc)
	}

	fmt.Println()
}
