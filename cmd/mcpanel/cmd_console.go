package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/mcpanel/internal/console"
	"github.com/TheGojiOG/mcpanel/internal/control"
	"github.com/TheGojiOG/mcpanel/internal/tail"
)

func newLogsCmd() *cobra.Command {
	var (
		follow     bool
		filterSpec string
	)
	cmd := &cobra.Command{
		Use:   "logs <name>",
		Short: "Print recent console and debug log output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := console.ParseFilter(filterSpec)
			if err != nil {
				return err
			}
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.ctl.Lookup(args[0])
			if err != nil {
				return err
			}

			out := &lineFilter{w: cmd.OutOrStdout(), filter: filter}
			tailer := tail.New(h.LogFiles(), func(_, chunk string) {
				out.Write([]byte(chunk))
			}, a.ctl.TailOptions())

			if !follow {
				if err := tailer.Prime(); err != nil {
					return err
				}
				return out.Flush()
			}
			err = tailer.Run(cmd.Context())
			out.Flush()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new output")
	cmd.Flags().StringVar(&filterSpec, "filter", "", "Only print matching lines: errors, search <text> or regex <pattern>")
	return cmd
}

// lineFilter passes complete lines through an output filter. A trailing
// partial line is held until its newline arrives or Flush is called.
type lineFilter struct {
	w       io.Writer
	filter  *console.OutputFilter
	partial string
}

func (l *lineFilter) Write(p []byte) (int, error) {
	text := l.partial + string(p)
	lines := strings.Split(text, "\n")
	l.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		if err := l.emit(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (l *lineFilter) Flush() error {
	if l.partial == "" {
		return nil
	}
	line := l.partial
	l.partial = ""
	return l.emit(line)
}

func (l *lineFilter) emit(line string) error {
	if !l.filter.Filter(line).Include {
		return nil
	}
	_, err := fmt.Fprintln(l.w, console.SanitizeLine(line))
	return err
}

func newRCONCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rcon <name> [command...]",
		Short: "Run an RCON command, or open the interactive console",
		Long: "With a command, sends it over RCON and prints the reply. Without one, " +
			"opens a console showing the server log with an RCON prompt.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			name := args[0]
			if len(args) > 1 {
				out, err := a.ctl.Command(cmd.Context(), name, actor(), strings.Join(args[1:], " "))
				if err != nil {
					if errors.Is(err, control.ErrRCONDisabled) {
						return fmt.Errorf("%w; set enable-rcon=true and restart the server", err)
					}
					return err
				}
				if out != "" {
					fmt.Fprintln(cmd.OutOrStdout(), console.SanitizeLine(out))
				}
				return nil
			}

			session, err := a.ctl.NewSession(name, actor())
			if err != nil {
				return err
			}
			return console.Run(cmd.Context(), session)
		},
	}
}
