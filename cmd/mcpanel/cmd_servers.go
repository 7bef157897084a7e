package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/install"
	"github.com/TheGojiOG/mcpanel/internal/logging"
	"github.com/TheGojiOG/mcpanel/internal/server"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func stateStyle(state server.State) lipgloss.Style {
	if state == server.StateRunning {
		return runningStyle
	}
	return stoppedStyle
}

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List servers and their state",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			handles, err := a.ctl.Layout().List()
			if err != nil {
				return err
			}
			statuses := make([]server.Status, 0, len(handles))
			for _, h := range handles {
				statuses = append(statuses, a.supervisor.Status(h))
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			if len(handles) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No servers in %s\n", a.cfg.ServersDir())
				return nil
			}

			name := lipgloss.NewStyle().Width(24)
			state := lipgloss.NewStyle().Width(10)
			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render(name.Render("NAME")+state.Render("STATE")+"VERSION"))
			for i, h := range handles {
				st := statuses[i]
				version := "-"
				if def, err := config.LoadServer(h.Dir); err == nil {
					version = def.Loader + " " + def.Version
				}
				fmt.Fprintln(cmd.OutOrStdout(),
					name.Render(h.Name)+stateStyle(st.State).Inherit(state).Render(string(st.State))+version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var opts install.Options
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Install a vanilla server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			opts.Name = args[0]
			if !cmd.Flags().Changed("rcon-password") {
				opts.RCONPassword = a.cfg.RCON.Password
			}
			if !cmd.Flags().Changed("java") {
				opts.JavaBin = a.cfg.Runtime.JavaBin
			}

			out := cmd.OutOrStdout()
			installer := install.NewInstaller(a.ctl.Layout(), install.NewHTTPFetcher(nil))
			_, def, err := installer.Create(cmd.Context(), opts, func(line string) {
				fmt.Fprintln(out, line)
			})

			activity := &logging.Activity{
				ServerName:   opts.Name,
				Actor:        actor(),
				ActivityType: logging.ActivityServerCreate,
				Description:  fmt.Sprintf("create vanilla %s", opts.Version),
				Success:      err == nil,
			}
			if err != nil {
				activity.ErrorMessage = err.Error()
			} else {
				activity.Metadata = map[string]any{"version": def.Version, "id": def.ID}
			}
			if !errors.Is(err, install.ErrServerExists) {
				if logErr := a.activity.LogActivity(activity); logErr != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(logErr.Error()))
				}
			}
			if err != nil {
				return err
			}
			if !opts.AcceptEULA {
				fmt.Fprintln(out, "Set eula=true in eula.txt (or pass --accept-eula) before starting.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Version, "version", "latest", "Minecraft version, \"latest\" or \"snapshot\"")
	cmd.Flags().StringVar(&opts.Xms, "xms", "", "Initial heap size")
	cmd.Flags().StringVar(&opts.Xmx, "xmx", "", "Maximum heap size")
	cmd.Flags().IntVar(&opts.Port, "port", install.DefaultPort, "Game port")
	cmd.Flags().IntVar(&opts.RCONPort, "rcon-port", config.DefaultRCONPort, "RCON port")
	cmd.Flags().StringVar(&opts.RCONPassword, "rcon-password", "", "RCON password (default from config)")
	cmd.Flags().StringVar(&opts.JavaBin, "java", "", "Java binary written into start.sh")
	cmd.Flags().StringVar(&opts.ExtraJavaArgs, "java-args", "", "Extra JVM arguments")
	cmd.Flags().BoolVar(&opts.AcceptEULA, "accept-eula", false, "Accept the Minecraft EULA")
	return cmd
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start a server in the background",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ctl.Start(cmd.Context(), args[0], actor())
			if err != nil {
				return err
			}
			printStart(cmd, res)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ctl.Stop(cmd.Context(), args[0], actor(), force)
			if res.Outcome != "" {
				msg := res.Message()
				if res.Forced {
					msg += " (killed)"
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Kill the server if it does not exit within the grace period")
	return cmd
}

func newRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <name>",
		Short: "Stop then start a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.ctl.Restart(cmd.Context(), args[0], actor())
			if err != nil {
				return err
			}
			printStart(cmd, res)
			return nil
		},
	}
}

func printStart(cmd *cobra.Command, res server.StartResult) {
	out := cmd.OutOrStdout()
	msg := res.Message()
	if res.PID > 0 {
		msg = fmt.Sprintf("%s (pid %d)", strings.TrimSuffix(msg, "."), res.PID)
	}
	if res.Outcome == server.OutcomeNoRunnableTarget {
		fmt.Fprintln(out, errorStyle.Render(msg))
		return
	}
	fmt.Fprintln(out, msg)
}

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <name>",
		Short: "Show host and server resource usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.ctl.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(stats)
			}
			state := server.StateStopped
			if stats.Running {
				state = server.StateRunning
			}
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render(args[0]), stateStyle(state).Render(string(state)))
			fmt.Fprintf(out, "CPU     %.1f%%\n", stats.CPUPercent)
			fmt.Fprintf(out, "Memory  %s / %s\n", formatBytes(stats.MemUsed), formatBytes(stats.MemTotal))
			if stats.Running {
				fmt.Fprintf(out, "Server  pid %d, rss %s\n", stats.PID, formatBytes(stats.ProcRSS))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
