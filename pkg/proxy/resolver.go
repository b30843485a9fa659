package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yolkispalkis/nwutil/pkg/common"
	"github.com/yolkispalkis/nwutil/pkg/config"
	"github.com/yolkispalkis/nwutil/pkg/pac"
	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

// DefaultPACTimeout bounds PAC resolution for GetDefaultProxySettings.
const DefaultPACTimeout = 5 * time.Second

// Fetcher retrieves a PAC script.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (string, error)
}

// Evaluator runs a PAC script's FindProxyForURL(url, host).
type Evaluator interface {
	FindProxyForURL(ctx context.Context, script, targetURL, targetHost string) (string, error)
}

// Resolver turns a URI into proxy Settings using a Provider and, when the
// provider asks for it, a PAC script. It is safe for concurrent use.
type Resolver struct {
	provider  Provider
	fetcher   Fetcher
	evaluator Evaluator

	closers   []func()
	closeOnce sync.Once
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithFetcher replaces the default PAC fetcher.
func WithFetcher(f Fetcher) Option {
	return func(r *Resolver) { r.fetcher = f }
}

// WithEvaluator replaces the default PAC engine.
func WithEvaluator(e Evaluator) Option {
	return func(r *Resolver) { r.evaluator = e }
}

// NewResolver creates a Resolver backed by provider. Unless overridden, PAC
// scripts are fetched with pac.Fetcher and run by pac.Engine.
func NewResolver(provider Provider, opts ...Option) *Resolver {
	r := &Resolver{provider: provider}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		f := pac.NewFetcher(pac.FetcherOptions{})
		r.fetcher = f
		r.closers = append(r.closers, f.Close)
	}
	if r.evaluator == nil {
		e := pac.NewEngine(pac.EngineOptions{})
		r.evaluator = e
		r.closers = append(r.closers, e.Close)
	}
	return r
}

// NewResolverFromConfig creates a Resolver for the proxy section of the
// configuration, with the PAC fetcher and engine tuned by it.
func NewResolverFromConfig(cfg config.ProxyConfig, opts ...Option) *Resolver {
	f := pac.NewFetcher(pac.FetcherOptions{
		Timeout:  cfg.ConnectionTimeout,
		MaxSize:  cfg.PacMaxSize,
		Charset:  cfg.PacCharset,
		CacheTTL: cfg.PacCacheTTL,
	})
	e := pac.NewEngine(pac.EngineOptions{MaxConcurrent: cfg.MaxConcurrentEvaluations})
	opts = append([]Option{WithFetcher(f), WithEvaluator(e)}, opts...)
	r := NewResolver(NewConfigProvider(cfg), opts...)
	r.closers = append(r.closers, f.Close, e.Close)
	return r
}

// Close releases the default fetcher's connections and stops the default
// engine's cache cleaner.
func (r *Resolver) Close() error {
	r.closeOnce.Do(func() {
		for _, c := range r.closers {
			c()
		}
	})
	return nil
}

// GetProxySettings resolves the proxy for uri. PAC resolution, including the
// script download, must finish within pacTimeout; a zero pacTimeout disables
// PAC and yields a direct connection when the provider asks for PAC.
// Errors are *ResolveError values.
func (r *Resolver) GetProxySettings(ctx context.Context, uri string, pacTimeout time.Duration) (*Settings, error) {
	target, err := weburl.ParseString(uri, nil)
	if err != nil {
		return nil, newResolveError(ErrInvalidURI, uri, err)
	}

	sc, err := r.provider.ProxyConfigFor(ctx, target)
	if err != nil {
		return nil, newResolveError(ErrProvider, uri, err)
	}

	switch sc.Mode {
	case ModeDirect:
		slog.Debug("Using direct connection", "host", target.HostHeader())
		return Direct(), nil
	case ModeFixed:
		s, err := parseProxy(sc.Proxy, sc.Username, sc.Password)
		if err != nil {
			return nil, newResolveError(ErrInvalidProxyHost, uri, err)
		}
		slog.Debug("Using configured proxy", "host", target.HostHeader(), "proxy", s)
		return s, nil
	case ModePAC:
		if pacTimeout <= 0 {
			slog.Debug("PAC resolution disabled, using direct connection", "host", target.HostHeader())
			return Direct(), nil
		}
		return r.resolvePAC(ctx, uri, target, sc, pacTimeout)
	default:
		return nil, newResolveError(ErrProvider, uri, fmt.Errorf("unknown proxy mode %v", sc.Mode))
	}
}

func (r *Resolver) resolvePAC(ctx context.Context, uri string, target *weburl.URL, sc SystemConfig, timeout time.Duration) (*Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	script := sc.PACScript
	if script == "" {
		if sc.PACURL == "" {
			return nil, newResolveError(ErrPACFetchFailed, uri, errors.New("no PAC location configured"))
		}
		var err error
		script, err = runBounded(ctx, func() (string, error) {
			return r.fetcher.Fetch(ctx, sc.PACURL)
		})
		if err != nil {
			return nil, pacError(ctx, ErrPACFetchFailed, uri, err)
		}
	}

	// Credentials of the target are no business of the script.
	scriptURL := target.WithoutCredentials().String()
	result, err := runBounded(ctx, func() (string, error) {
		return r.evaluator.FindProxyForURL(ctx, script, scriptURL, target.Hostname())
	})
	if err != nil {
		return nil, pacError(ctx, ErrPACEvaluationFailed, uri, err)
	}
	slog.Debug("PAC evaluation result", "host", target.HostHeader(), "result", result)

	return selectDirective(uri, result, sc)
}

// selectDirective returns the settings for the first usable directive.
func selectDirective(uri, result string, sc SystemConfig) (*Settings, error) {
	for _, d := range pac.ParseDirectives(result) {
		switch {
		case d.Kind == pac.DirectiveDirect:
			return Direct(), nil
		case d.Kind == pac.DirectiveHTTPS:
			s, err := parseProxy(withScheme("https", d.Arg), sc.Username, sc.Password)
			if err != nil {
				return nil, newResolveError(ErrInvalidProxyHost, uri, err)
			}
			return s, nil
		case d.Kind.IsHTTP():
			s, err := parseProxy(withScheme("http", d.Arg), sc.Username, sc.Password)
			if err != nil {
				return nil, newResolveError(ErrInvalidProxyHost, uri, err)
			}
			return s, nil
		default:
			slog.Debug("Skipping non-HTTP PAC directive", "directive", d.String())
		}
	}
	return nil, newResolveError(ErrPACEvaluationFailed, uri, fmt.Errorf("no usable directive in %q", result))
}

func withScheme(scheme, arg string) string {
	if strings.Contains(arg, "://") {
		return arg
	}
	return scheme + "://" + arg
}

func pacError(ctx context.Context, kind error, uri string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || common.IsTimeoutError(err) {
		return newResolveError(ErrTimeout, uri, err)
	}
	return newResolveError(kind, uri, err)
}

// runBounded calls fn and returns its result, or ctx.Err() as soon as ctx is
// done. In the latter case fn is left running in the background.
func runBounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// Default returns the process-wide Resolver, backed by the environment.
func Default() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver(NewEnvProvider())
	})
	return defaultResolver
}

// GetProxySettings resolves uri with the default Resolver.
func GetProxySettings(uri string, pacTimeout time.Duration) (*Settings, error) {
	return Default().GetProxySettings(context.Background(), uri, pacTimeout)
}

// GetDefaultProxySettings resolves uri with the default Resolver and
// DefaultPACTimeout.
func GetDefaultProxySettings(uri string) (*Settings, error) {
	return GetProxySettings(uri, DefaultPACTimeout)
}
