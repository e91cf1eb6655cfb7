// Command accentctl is a small CLI client for controlling a running
// accentd daemon over its Unix socket.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"accentd/internal/config"
	"accentd/internal/ipc"
)

func main() {
	root := &cobra.Command{
		Use:   "accentctl",
		Short: "Control the accentd daemon",
	}

	root.AddCommand(
		simpleCommand("status", "Show daemon status", ipc.ClientMsg{Type: ipc.TypeGetStatus}),
		simpleCommand("enable", "Enable accent detection", ipc.ClientMsg{Type: ipc.TypeEnable}),
		simpleCommand("disable", "Disable accent detection", ipc.ClientMsg{Type: ipc.TypeDisable}),
		simpleCommand("toggle", "Toggle accent detection on/off", ipc.ClientMsg{Type: ipc.TypeToggle}),
		setLocaleCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func simpleCommand(use, short string, msg ipc.ClientMsg) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(msg)
		},
	}
}

func setLocaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-locale <locale>",
		Short: "Set the active locale (e.g. it, es, fr, de, pt)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(ipc.ClientMsg{Type: ipc.TypeSetLocale, Locale: args[0]})
		},
	}
}

func sendAndPrint(msg ipc.ClientMsg) error {
	socketPath := config.SocketPath()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("connecting to accentd at %s (is the daemon running?): %w", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(ipc.Encode(msg))); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return fmt.Errorf("reading response: %w", scanner.Err())
	}

	resp, ok := ipc.DecodeDaemonMsg(scanner.Text())
	if !ok {
		return fmt.Errorf("reading response: malformed reply")
	}

	switch resp.Type {
	case ipc.TypeStatus:
		fmt.Printf("accentd v%s\n", resp.Version)
		fmt.Printf("  enabled: %v\n", resp.Enabled)
		fmt.Printf("  locale:  %s\n", resp.Locale)
	case ipc.TypeAck:
		if resp.OK {
			fmt.Println(resp.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", resp.Message)
			os.Exit(1)
		}
	}
	return nil
}
