package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/atelier/internal/errors"
	"github.com/hpungsan/atelier/internal/generate"
	"github.com/hpungsan/atelier/internal/mcp"
	"github.com/hpungsan/atelier/internal/ops"
	"github.com/hpungsan/atelier/internal/web"
)

// maxStdinBytes bounds a prompt read from stdin.
const maxStdinBytes = 16 << 10

// newCLIApp creates the CLI application with all commands. s may be nil for
// --help and --version.
func newCLIApp(s *ops.Studio) *cli.App {
	app := &cli.App{
		Name:    "atelier",
		Usage:   "AI image studio",
		Version: Version,
		Commands: []*cli.Command{
			generateCmd(s),
			enhanceCmd(s),
			galleryCmd(s),
			downloadCmd(s),
			cacheCmd(s),
			serveCmd(s),
			mcpCmd(s),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// generateCmd creates the generate command.
func generateCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate an image (prompt from args or stdin) and add it to the gallery",
		ArgsUsage: "[prompt]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "Model: " + strings.Join(generate.Models(), "|")},
			&cli.StringFlag{Name: "style", Aliases: []string{"s"}, Usage: "Style, e.g. anime or \"oil painting\""},
			&cli.StringFlag{Name: "size", Usage: "WIDTHxHEIGHT (default from config)"},
			&cli.BoolFlag{Name: "enhance", Usage: "Let the image service expand the prompt"},
			&cli.BoolFlag{Name: "nologo", Usage: "Hide the service watermark"},
			&cli.IntFlag{Name: "seed", Usage: "Fixed seed (0 = random)"},
		},
		Action: func(c *cli.Context) error {
			prompt, err := promptArg(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Generate(c.Context, s, ops.GenerateInput{
				Prompt:  prompt,
				Model:   c.String("model"),
				Style:   c.String("style"),
				Size:    c.String("size"),
				Enhance: c.Bool("enhance"),
				NoLogo:  c.Bool("nologo"),
				Seed:    c.Int("seed"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// enhanceCmd creates the enhance command.
func enhanceCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:      "enhance",
		Usage:     "Rewrite a prompt with more visual detail",
		ArgsUsage: "[prompt]",
		Action: func(c *cli.Context) error {
			prompt, err := promptArg(c)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Enhance(c.Context, s, ops.EnhanceInput{Prompt: prompt})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// galleryCmd creates the gallery command and its subcommands.
func galleryCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:  "gallery",
		Usage: "Inspect, clear, or export the gallery",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List images, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					return outputJSON(ops.ListGallery(s, ops.ListInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					}))
				},
			},
			{
				Name:      "get",
				Usage:     "Show one image by position (0 = newest)",
				ArgsUsage: "<index>",
				Action: func(c *cli.Context) error {
					index, err := indexArg(c)
					if err != nil {
						return outputError(err)
					}
					output, err := ops.GalleryItem(s, index)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "clear",
				Usage: "Remove every image from the gallery",
				Action: func(c *cli.Context) error {
					return outputJSON(ops.ClearGallery(c.Context, s))
				},
			},
			{
				Name:  "export",
				Usage: "Write the gallery as Markdown or HTML",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output path (default: ~/.atelier/exports/gallery-<timestamp>.<format>)"},
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "md|html (default: from --path, else md)"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ExportGallery(c.Context, s, ops.ExportInput{
						Path:   c.String("path"),
						Format: ops.ExportFormat(c.String("format")),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// downloadCmd creates the download command.
func downloadCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Save an image as ai-image-<ms>.png",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "index", Aliases: []string{"i"}, Usage: "Gallery position"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Image URL"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Destination directory (default: ~/.atelier/downloads)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.DownloadInput{
				URL: c.String("url"),
				Dir: c.String("dir"),
			}
			if c.IsSet("index") {
				index := c.Int("index")
				input.Index = &index
			}

			output, err := ops.Download(c.Context, s, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// cacheCmd creates the cache command and its subcommands.
func cacheCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the offline asset cache",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show active and waiting versions and stored generations",
				Action: func(c *cli.Context) error {
					output, err := ops.CacheStatus(c.Context, s)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "install",
				Usage: "Install the asset manifest of the configured origin",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "version", Usage: "Cache version (default: cache_version from config)"},
					&cli.BoolFlag{Name: "wait", Usage: "Leave the new version waiting until 'cache activate'"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.CacheInstall(c.Context, s, ops.CacheInstallInput{
						Version:        c.String("version"),
						WaitForControl: c.Bool("wait"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:  "activate",
				Usage: "Activate a waiting version now (SKIP_WAITING)",
				Action: func(c *cli.Context) error {
					output, err := ops.CacheMessage(c.Context, s, ops.CacheMessageInput{Type: "SKIP_WAITING"})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8420, Usage: "Port"},
			&cli.StringFlag{Name: "origin", Usage: "Mirror this deployment through the asset cache instead of the embedded UI"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(s, web.Options{
				Bind:    c.String("bind"),
				Port:    c.Int("port"),
				Version: Version,
				Origin:  c.String("origin"),
			})
			if err != nil {
				return outputError(err)
			}
			if err := web.Run(srv, s.Log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(s *ops.Studio) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			if err := mcp.Run(s, Version); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var aErr *errors.AtelierError
	if stderrors.As(err, &aErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", aErr.Code, aErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// promptArg returns the positional arguments joined by spaces, or stdin when
// no arguments are given and input is piped.
func promptArg(c *cli.Context) (string, error) {
	if c.NArg() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	if !stdinHasData() {
		return "", errors.NewInvalidRequest("prompt is required (pass it as an argument or pipe it via stdin)")
	}
	return readStdin(maxStdinBytes)
}

// indexArg parses the first positional argument as a gallery index.
func indexArg(c *cli.Context) (int, error) {
	if c.NArg() == 0 {
		return 0, errors.NewInvalidRequest("index is required")
	}
	index, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("index must be an integer, got %q", c.Args().First()))
	}
	return index, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}
