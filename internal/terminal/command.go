package terminal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// Flags are the geosearch command line options.
type Flags struct {
	Key         string
	Limit       int
	ProxyURL    string
	Near        string
	Reverse     string
	JSON        bool
	Interactive bool
	ConfigPath  string
	Verbose     bool
}

var (
	stdinIsTerminal  = func() bool { return isatty.IsTerminal(os.Stdin.Fd()) }
	stdoutIsTerminal = func() bool { return isatty.IsTerminal(os.Stdout.Fd()) }

	// enterRawMode puts stdin in raw mode and returns the restore func.
	enterRawMode = func() (func(), error) {
		fd := os.Stdin.Fd()
		state, err := term.MakeRaw(fd)
		if err != nil {
			return nil, err
		}
		return func() { _ = term.Restore(fd, state) }, nil
	}
)

// Response is the JSON envelope printed with --json.
type Response struct {
	OK       bool               `json:"ok"`
	Query    string             `json:"query,omitempty"`
	Results  []geocoding.Result `json:"results,omitempty"`
	Selected *geocoding.Result  `json:"selected,omitempty"`
	Error    *ErrorInfo         `json:"error,omitempty"`
}

// ErrorInfo is the error part of a Response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCommand builds the geosearch root command.
func NewCommand() *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "geosearch [query]",
		Short: "Search places with the OpenCage geocoder",
		Long: `geosearch looks up places by name, or by coordinates with --reverse.

The API key is read from --key, then the config file
(~/.config/geosearch/config.toml), then $OPENCAGE_API_KEY.
With --interactive the results can be browsed with the arrow keys.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(flags.Verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags, strings.TrimSpace(strings.Join(args, " ")))
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Key, "key", "", "OpenCage API key")
	f.IntVar(&flags.Limit, "limit", 0, "Maximum number of results")
	f.StringVar(&flags.ProxyURL, "proxy-url", "", "Send requests to this proxy instead of OpenCage")
	f.StringVar(&flags.Near, "near", "", "Prefer results near lat,lng")
	f.StringVar(&flags.Reverse, "reverse", "", "Look up the place at lat,lng")
	f.BoolVar(&flags.JSON, "json", false, "Output in JSON format")
	f.BoolVarP(&flags.Interactive, "interactive", "i", false, "Pick a result with the keyboard")
	f.StringVar(&flags.ConfigPath, "config", "", "Path to config file")
	f.BoolVarP(&flags.Verbose, "verbose", "v", false, "Log requests to stderr")
	return cmd
}

func initLogging(verbose bool) error {
	cfg := telemetry.DefaultLogConfig()
	cfg.Service = "geosearch"
	cfg.Format = "text"
	cfg.Output = "stderr"
	cfg.Caller = false
	cfg.Level = telemetry.WarnLevel
	if verbose {
		cfg.Level = telemetry.DebugLevel
	}
	return telemetry.InitGlobalLogger(cfg)
}

func run(cmd *cobra.Command, flags Flags, query string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	cfg, err := LoadConfig(flags.ConfigPath)
	if err != nil {
		return err
	}
	opts, err := cfg.GeocoderOptions(flags)
	if err != nil {
		return err
	}
	near, err := cfg.NearPoint(flags.Near)
	if err != nil {
		return err
	}

	var location *geocoding.LatLng
	if flags.Reverse != "" {
		ll, err := geocoding.ParseLatLng(flags.Reverse)
		if err != nil {
			return fmt.Errorf("invalid --reverse: %w", err)
		}
		location = &ll
		query = geocoding.FormatLatLng(ll)
	}
	if query == "" {
		return stderrors.New("a query or --reverse lat,lng is required")
	}

	client := geocoding.NewClient(opts)
	defer client.Close()

	if flags.Interactive {
		return runInteractive(ctx, cmd, flags, client, query, location, near)
	}

	var results []geocoding.Result
	if location != nil {
		results, err = client.Reverse(ctx, *location, 0, nearProvider(near))
	} else {
		results, err = client.Geocode(ctx, query, nearProvider(near))
	}
	if err != nil {
		return report(out, flags.JSON, query, err)
	}

	if flags.JSON {
		return writeJSON(out, Response{OK: true, Query: query, Results: results})
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, Muted.Render(control.DefaultErrorMessage))
		return err
	}
	_, err = fmt.Fprintln(out, RenderResults(results))
	return err
}

func runInteractive(ctx context.Context, cmd *cobra.Command, flags Flags, client *geocoding.Client, query string, location, near *geocoding.LatLng) error {
	if !stdinIsTerminal() || !stdoutIsTerminal() {
		return stderrors.New("--interactive needs a terminal on stdin and stdout")
	}
	out := cmd.OutOrStdout()

	restore, err := enterRawMode()
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}

	view := NewView(out, true)
	picker, err := NewPicker(client, control.DefaultOptions(), view, near)
	if err != nil {
		restore()
		return err
	}

	if location != nil {
		err = picker.Reverse(ctx, *location)
	} else {
		err = picker.Search(ctx, query)
	}
	if err != nil {
		restore()
		return report(out, flags.JSON, query, err)
	}

	var (
		result geocoding.Result
		ok     bool
	)
	if view.Len() > 0 {
		result, ok, err = picker.Run(ctx, cmd.InOrStdin())
	} else {
		result, ok = picker.Selected()
	}
	restore()
	if err != nil {
		return err
	}

	if flags.JSON {
		resp := Response{OK: ok, Query: query}
		if ok {
			resp.Selected = &result
		}
		return writeJSON(out, resp)
	}
	if !ok {
		return nil
	}
	_, err = fmt.Fprintln(out, RenderSelection(result))
	return err
}

// report prints a lookup error. In JSON mode the error goes in the envelope
// and the command still fails.
func report(out io.Writer, asJSON bool, query string, err error) error {
	if !asJSON {
		return err
	}
	info := &ErrorInfo{Code: "ERROR", Message: err.Error()}
	if appErr, ok := errors.AsAppError(err); ok {
		info = &ErrorInfo{Code: appErr.Code, Message: appErr.Message}
	}
	if writeErr := writeJSON(out, Response{OK: false, Query: query, Error: info}); writeErr != nil {
		return writeErr
	}
	return err
}

func writeJSON(out io.Writer, resp Response) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

type pointProvider struct{ ll geocoding.LatLng }

func (p pointProvider) GetCenter() (geocoding.LatLng, bool) { return p.ll, true }

func nearProvider(near *geocoding.LatLng) geocoding.CenterProvider {
	if near == nil {
		return nil
	}
	return pointProvider{ll: *near}
}
