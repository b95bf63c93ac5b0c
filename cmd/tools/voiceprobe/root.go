package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:          "voiceprobe",
		Short:        "Exercise the Rev voice websocket from the terminal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("VOICEPROBE_SERVER", "http://localhost:3000"), "Server base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 60*time.Second, "Overall timeout")

	rootCmd.AddCommand(
		newStatusCmd(opts),
		newTurnCmd(opts),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print /health and /api/voice/status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{Timeout: opts.timeout}
			base := strings.TrimRight(opts.server, "/")
			for _, path := range []string{"/health", "/api/voice/status"} {
				body, err := getJSON(client, base+path)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", path, body); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func getJSON(client *http.Client, url string) (string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d: %v", url, resp.StatusCode, payload["error"])
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// websocketURL maps an http(s) base URL onto the voice endpoint.
func websocketURL(server string) string {
	base := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if strings.HasSuffix(base, "/api/voice/ws") {
		return base
	}
	return base + "/api/voice/ws"
}
