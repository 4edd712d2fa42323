package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hopper/internal/signals"
)

var sendFrom string

var sendCmd = &cobra.Command{
	Use:   "send <worker-id> <type> [key=value...]",
	Short: "Send a message to a worker of the running query",
	Long: `Deliver a message to a worker of the query running in this directory.

Payload values are parsed as numbers or booleans when possible. Workers that
accept messages keep them as notes for the hops they run afterwards.

Examples:
  hopper send worker-1 note text="prefer primary sources"
  hopper send worker-2 hint year=1964`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "cli", "Sender recorded on the message")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(args[2:])
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	id := uuid.NewString()
	msg := map[string]any{
		"id":      id,
		"from":    sendFrom,
		"to":      args[0],
		"type":    args[1],
		"payload": payload,
	}
	if err := signals.WriteMessage(cwd, id, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	fmt.Printf("%s Message %s queued for %s\n", color.GreenString("✓"), id, args[0])
	return nil
}

// parsePayload turns key=value pairs into a payload map.
func parsePayload(pairs []string) (map[string]any, error) {
	payload := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid payload entry %q: expected key=value", p)
		}
		payload[k] = parseScalar(v)
	}
	return payload, nil
}

func parseScalar(v string) any {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
