package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/jarvis/internal/api"
)

const defaultAddr = "http://localhost:50051"

// errUnsuccessful makes the process exit non-zero after the reply has been
// printed.
var errUnsuccessful = errors.New("request was not successful")

type globals struct {
	addr       string
	outputJSON bool
}

func (g *globals) client() (*api.Client, error) {
	return api.NewClient(g.addr, api.WithSource("cli"))
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "jarvisctl",
		Short: "Control a running jarvis assistant",
		Long: `jarvisctl talks to a running jarvis over its HTTP API.

Examples:
  # Run a command as if it had been spoken
  jarvisctl message play music bohemian rhapsody

  # Check the spotify skill through the assistant
  jarvisctl --addr http://core:50051 health spotify

  # Follow wake word detections as JSON lines
  jarvisctl watch --json | jq .score`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addr := defaultAddr
	if env := os.Getenv("JARVIS_ADDR"); env != "" {
		addr = env
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", addr, "base URL of the jarvis API (env JARVIS_ADDR)")
	root.PersistentFlags().BoolVar(&g.outputJSON, "json", false, "output as JSON (for piping)")

	root.AddCommand(
		newMessageCmd(g),
		newSpeakCmd(g),
		newHealthCmd(g),
		newWatchCmd(g),
	)
	return root
}

func newMessageCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "message <text...>",
		Short: "Resolve a text command and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.ProcessMessage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.Response)
				if resp.ErrorMessage != "" {
					fmt.Fprintln(w, "error:", resp.ErrorMessage)
				}
			}); err != nil {
				return err
			}
			if !resp.Success {
				return errUnsuccessful
			}
			return nil
		},
	}
}

func newSpeakCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "speak <text...>",
		Short: "Say text on the assistant's speaker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.Speak(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := g.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintln(w, resp.Message)
			}); err != nil {
				return err
			}
			if !resp.Success {
				return errUnsuccessful
			}
			return nil
		},
	}
}

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health [service]",
		Short: "Print service health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			var service string
			if len(args) == 1 {
				service = args[0]
			}
			h, err := c.HealthCheck(cmd.Context(), service)
			if err != nil {
				return err
			}
			if err := g.print(cmd.OutOrStdout(), h, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", h.Status, h.Message)
			}); err != nil {
				return err
			}
			if !h.Healthy() {
				return errUnsuccessful
			}
			return nil
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var heartbeats bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream wake word events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			return c.WakeWordStream(cmd.Context(), func(ev api.WakeWordEvent) error {
				if !ev.Detected && !heartbeats {
					return nil
				}
				return g.print(w, ev, func(w io.Writer) {
					ts := ev.Timestamp.Local().Format("15:04:05.000")
					if ev.Detected {
						fmt.Fprintf(w, "%s  detected %q (score %.2f)\n", ts, ev.WakeWord, ev.Score)
					} else {
						fmt.Fprintf(w, "%s  heartbeat\n", ts)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "also print heartbeat events")
	return cmd
}

// print writes v as a JSON line with --json, or calls text otherwise.
func (g *globals) print(w io.Writer, v any, text func(io.Writer)) error {
	if g.outputJSON {
		return json.NewEncoder(w).Encode(v)
	}
	text(w)
	return nil
}
