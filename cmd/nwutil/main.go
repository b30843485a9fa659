package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/pflag"

	"github.com/yolkispalkis/nwutil/pkg/config"
	"github.com/yolkispalkis/nwutil/pkg/logging"
	"github.com/yolkispalkis/nwutil/pkg/proxy"
	"github.com/yolkispalkis/nwutil/pkg/signals"
	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usageText = `Usage:
  nwutil url [--base URL] INPUT
  nwutil proxy [--config FILE] [--pac-timeout D] [flags] URI
  nwutil version

Run "nwutil <command> --help" for the flags of a command.
`

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "nwutil panic: %v\n%s\n", r, debug.Stack())
			os.Exit(1)
		}
	}()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}
	switch args[0] {
	case "url":
		return runURL(args[1:], stdout, stderr)
	case "proxy":
		return runProxy(args[1:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "nwutil %s, commit %s, built at %s\n", version, commit, date)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "nwutil: unknown command %q\n%s", args[0], usageText)
		return 2
	}
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

// parseArgs parses args and expects exactly one positional argument. A
// non-negative code means the caller should return it.
func parseArgs(fs *pflag.FlagSet, args []string, what string, stderr io.Writer) (string, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", 0
		}
		return "", 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "nwutil %s: expected exactly one %s\n", fs.Name(), what)
		fs.PrintDefaults()
		return "", 2
	}
	return fs.Arg(0), -1
}

func runURL(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("url", stderr)
	base := fs.String("base", "", "base URL for resolving a relative INPUT")
	logLevel := fs.String("log-level", "warn", "log level (debug, info, warn, error)")
	input, code := parseArgs(fs, args, "INPUT", stderr)
	if code >= 0 {
		return code
	}
	logging.Setup(*logLevel, "", stderr)

	var baseURL *weburl.URL
	if *base != "" {
		var err error
		if baseURL, err = weburl.ParseString(*base, nil); err != nil {
			fmt.Fprintf(stderr, "nwutil url: invalid base: %v\n", err)
			return 1
		}
	}
	u, err := weburl.ParseString(input, baseURL)
	if err != nil {
		fmt.Fprintf(stderr, "nwutil url: %v\n", err)
		return 1
	}
	printURL(stdout, u)
	return 0
}

func printURL(w io.Writer, u *weburl.URL) {
	optional := func(v string, ok bool) string {
		if !ok {
			return "(absent)"
		}
		return fmt.Sprintf("%q", v)
	}
	port, hasPort := u.Port()
	portStr := "(absent)"
	if hasPort {
		portStr = fmt.Sprint(port)
	}
	host, hasHost := u.Host()

	fmt.Fprintf(w, "href:        %s\n", u.String())
	fmt.Fprintf(w, "scheme:      %q\n", u.Scheme())
	fmt.Fprintf(w, "username:    %s\n", optional(u.Username()))
	fmt.Fprintf(w, "password:    %s\n", optional(u.Password()))
	fmt.Fprintf(w, "host:        %s\n", optional(host, hasHost))
	fmt.Fprintf(w, "port:        %s\n", portStr)
	fmt.Fprintf(w, "path:        %q\n", u.Path())
	fmt.Fprintf(w, "query:       %s\n", optional(u.Query()))
	fmt.Fprintf(w, "fragment:    %s\n", optional(u.Fragment()))
	fmt.Fprintf(w, "host_header: %q\n", u.HostHeader())
}

func runProxy(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("proxy", stderr)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	fs.Duration("pac-timeout", config.DefaultPACTimeout, "PAC fetch and evaluation budget; 0 disables PAC")
	fs.String("proxy-type", config.DefaultProxyType, "none, http, https, pac, wpad or env")
	fs.String("proxy-url", "", "fixed proxy for --proxy-type http/https")
	fs.String("pac-url", "", "PAC script location for --proxy-type pac/wpad")
	fs.String("no-proxy", "", "hosts that bypass a fixed proxy, NO_PROXY syntax")
	fs.String("pac-charset", "", "charset of the PAC script, overriding the server")
	fs.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log-path", "", "log file; stderr when empty")
	uri, code := parseArgs(fs, args, "URI", stderr)
	if code >= 0 {
		return code
	}

	cfg, err := config.LoadConfig(*configPath, fs)
	if err != nil {
		fmt.Fprintf(stderr, "nwutil proxy: %v\n", err)
		return 1
	}
	closer := logging.Setup(cfg.LogLevel, cfg.LogPath, stderr)
	defer closer.Close()

	resolver := proxy.NewResolverFromConfig(cfg.Proxy)
	defer resolver.Close()

	ctx, stop := signals.CancelOnSignal(context.Background())
	defer stop()

	slog.Debug("Resolving proxy", "uri", uri, "type", cfg.Proxy.Type, "pac_timeout", cfg.Proxy.PacTimeout)
	settings, err := resolver.GetProxySettings(ctx, uri, cfg.Proxy.PacTimeout)
	if err != nil {
		fmt.Fprintf(stderr, "nwutil proxy: %v (errno: %v)\n", err, proxy.Errno(err))
		return 1
	}
	printSettings(stdout, settings)
	return 0
}

func printSettings(w io.Writer, s *proxy.Settings) {
	fmt.Fprintf(w, "use_proxy: %t\n", s.UseProxy())
	if !s.UseProxy() {
		return
	}
	fmt.Fprintf(w, "host:      %s\n", s.Host())
	fmt.Fprintf(w, "port:      %d\n", s.Port())
	if user, ok := s.Username(); ok {
		fmt.Fprintf(w, "username:  %s\n", user)
		fmt.Fprintf(w, "password:  ***\n")
	}
	fmt.Fprintf(w, "proxy:     %s\n", s)
}
