// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// setupCommand writes a config file when missing and migrates the preference database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml and initialize the database",
		Action: r.Setup,
	}
}

// serveCommand runs the conversion server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the audio conversion server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
		},
		Action: r.Serve,
	}
}

// probeCommand checks the configured conversion server.
func probeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Check that the conversion server is awake",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server base URL (default: the configured server)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Retry with backoff until the server answers or the probe timeout elapses",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall budget for --wait (default: prober.timeout)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Probe,
	}
}

// convertCommand transcodes one file through the server or in-process.
func convertCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert an audio file to MP3",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "input"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (default: input with .mp3 extension)",
			},
			&cli.BoolFlag{
				Name:  "local",
				Usage: "Transcode with the local ffmpeg instead of the conversion server",
			},
		},
		Action: r.Convert,
	}
}

// downloadCommand runs one orchestrated download for the active account.
func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Run the downloader for the active account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "folder",
				Aliases: []string{"f"},
				Usage:   "Download folder (default: downloader.download_folder)",
			},
		},
		Action: r.Download,
	}
}

// accountsCommand manages the account registry.
func accountsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"account", "acct"},
		Usage:   "Manage Spotify accounts",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List accounts, marking the active one",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AccountsList,
			},
			{
				Name:  "add",
				Usage: "Add an account from a Spotify app's client credentials",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Display name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "client-id",
						Usage:    "Spotify client ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "client-secret",
						Usage:    "Spotify client secret",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Check the credentials against Spotify before saving",
					},
				},
				Action: r.AccountsAdd,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm"},
				Usage:   "Remove an account and its cached login",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Action: r.AccountsRemove,
			},
			{
				Name:    "use",
				Aliases: []string{"switch"},
				Usage:   "Make an account active",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Action: r.AccountsUse,
			},
			{
				Name:   "current",
				Usage:  "Show the active account",
				Action: r.AccountsCurrent,
			},
			{
				Name:  "login",
				Usage: "Authorize an account in the browser and cache its token",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.AccountsLogin,
			},
			{
				Name:  "verify",
				Usage: "Check an account's client credentials against Spotify",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "account"},
				},
				Action: r.AccountsVerify,
			},
		},
	}
}

// serverCommand manages the conversion server selection.
func serverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Choose which conversion server downloads use",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the selected conversion server",
				Action: r.ServerShow,
			},
			{
				Name:  "set",
				Usage: "Select the cloud or local server, or a custom URL",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "cloud or local",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "Custom server URL; overrides mode (empty string clears it)",
					},
				},
				Action: r.ServerSet,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for interactive account management.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive account picker",
		Action:  r.TUI,
	}
}
