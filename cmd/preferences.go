package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/shared"
)

// ServerShow prints the conversion server downloads will use.
func (r *Runner) ServerShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	mode := "local"
	if r.config.Server.UseCloud {
		mode = "cloud"
	}

	r.writePlainHeader("Conversion server")
	r.writePlain("Mode:       %s\n", mode)
	r.writePlain("Cloud URL:  %s\n", r.config.Server.CloudURL)
	r.writePlain("Local URL:  %s\n", r.config.Server.LocalURL)
	if r.config.Server.CustomURL != "" {
		r.writePlain("Custom URL: %s\n", r.config.Server.CustomURL)
	}
	r.writePlain("In use:     %s\n", r.config.ConverterURL())
	return nil
}

// ServerSet saves the server selection to the preference database.
func (r *Runner) ServerSet(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	if !cmd.IsSet("mode") && !cmd.IsSet("url") {
		return fmt.Errorf("%w: --mode or --url", shared.ErrMissingArgument)
	}

	useCloud := r.config.Server.UseCloud
	if cmd.IsSet("mode") {
		switch strings.ToLower(strings.TrimSpace(cmd.String("mode"))) {
		case "cloud":
			useCloud = true
		case "local":
			useCloud = false
		default:
			return fmt.Errorf("%w: mode must be cloud or local, got %q", shared.ErrInvalidArgument, cmd.String("mode"))
		}
	}

	customURL := r.config.Server.CustomURL
	if cmd.IsSet("url") {
		customURL = strings.TrimSpace(cmd.String("url"))
		if customURL != "" && !strings.HasPrefix(customURL, "http://") && !strings.HasPrefix(customURL, "https://") {
			return fmt.Errorf("%w: url must start with http:// or https://", shared.ErrInvalidArgument)
		}
	}

	if err := r.prefs.Save(useCloud, customURL); err != nil {
		return err
	}
	r.config.Server.UseCloud = useCloud
	r.config.Server.CustomURL = customURL

	r.writePlain("✓ Downloads will use %s\n", r.config.ConverterURL())
	return nil
}
