package pac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/robertkrimen/otto"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDNSCacheTTL      = 5 * time.Minute
	negativeDNSCacheTTL     = 30 * time.Second
	myIPCacheTTL            = 10 * time.Minute
	defaultExecTimeout      = 5 * time.Second
	dnsLookupTimeout        = 2 * time.Second
	cacheCleanupInterval    = 15 * time.Minute
	defaultMaxConcurrentRun = 8
)

var (
	// ErrNoEntryPoint is returned when a script does not define FindProxyForURL.
	ErrNoEntryPoint = errors.New("function 'FindProxyForURL' not found in PAC script")

	errInterrupted = errors.New("pac script interrupted")
)

// EngineOptions tunes an Engine. The zero value is usable.
type EngineOptions struct {
	// MaxConcurrent bounds how many scripts run at once. Defaults to 8.
	MaxConcurrent int64
	// DNSCacheTTL is how long dnsResolve answers are reused. Defaults to 5m.
	DNSCacheTTL time.Duration

	// Hooks for tests; nil means the real network and clock.
	LookupHost     func(ctx context.Context, host string) ([]string, error)
	InterfaceAddrs func() ([]net.Addr, error)
	Now            func() time.Time
}

type dnsCacheEntry struct {
	ip     string // empty for a cached failure
	expiry time.Time
}

// Engine evaluates PAC scripts with otto. Every call gets its own VM, so an
// Engine is safe for concurrent use; only the DNS and myIpAddress caches are
// shared between calls.
type Engine struct {
	sem            *semaphore.Weighted
	dnsTTL         time.Duration
	lookupHost     func(ctx context.Context, host string) ([]string, error)
	interfaceAddrs func() ([]net.Addr, error)
	now            func() time.Time

	dnsCache   map[string]dnsCacheEntry
	dnsCacheMu sync.RWMutex

	myIPCache   string
	myIPExpiry  time.Time
	myIPCacheMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a PAC evaluation engine and starts its cache cleaner.
// Call Close to stop it.
func NewEngine(opts EngineOptions) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrentRun
	}
	if opts.DNSCacheTTL <= 0 {
		opts.DNSCacheTTL = defaultDNSCacheTTL
	}
	if opts.LookupHost == nil {
		opts.LookupHost = net.DefaultResolver.LookupHost
	}
	if opts.InterfaceAddrs == nil {
		opts.InterfaceAddrs = net.InterfaceAddrs
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		sem:            semaphore.NewWeighted(opts.MaxConcurrent),
		dnsTTL:         opts.DNSCacheTTL,
		lookupHost:     opts.LookupHost,
		interfaceAddrs: opts.InterfaceAddrs,
		now:            opts.Now,
		dnsCache:       make(map[string]dnsCacheEntry),
		stopChan:       make(chan struct{}),
	}
	go e.periodicCacheCleanup(cacheCleanupInterval)
	slog.Debug("PAC engine initialized", "max_concurrent", opts.MaxConcurrent, "dns_cache_ttl", opts.DNSCacheTTL)
	return e
}

// Close stops background cleanup tasks.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// FindProxyForURL loads script into a fresh VM and calls
// FindProxyForURL(targetURL, targetHost). It returns as soon as ctx is done,
// interrupting the script; a ctx without deadline gets a 5s limit.
func (e *Engine) FindProxyForURL(ctx context.Context, script, targetURL, targetHost string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultExecTimeout)
		defer cancel()
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for PAC evaluation slot: %w", err)
	}

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	if err := e.registerBuiltins(ctx, vm); err != nil {
		e.sem.Release(1)
		return "", fmt.Errorf("failed to register PAC helpers: %w", err)
	}

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				if r == errInterrupted {
					out.err = errInterrupted
				} else {
					out.err = fmt.Errorf("panic during PAC script execution: %v", r)
				}
			}
			e.sem.Release(1)
			done <- out
		}()
		out.result, out.err = runScript(vm, script, targetURL, targetHost)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", out.err
		}
		slog.Debug("PAC evaluation result", "url", targetURL, "result", out.result)
		return out.result, nil
	case <-ctx.Done():
		select {
		case vm.Interrupt <- func() { panic(errInterrupted) }:
		default:
		}
		slog.Warn("PAC script execution aborted, interrupt sent", "url", targetURL, "error", ctx.Err())
		return "", fmt.Errorf("pac script execution aborted: %w", ctx.Err())
	}
}

func runScript(vm *otto.Otto, script, targetURL, targetHost string) (string, error) {
	if _, err := vm.Run(script); err != nil {
		return "", fmt.Errorf("failed to load PAC script into JS VM: %w", err)
	}
	fn, err := vm.Get("FindProxyForURL")
	if err != nil || !fn.IsFunction() {
		return "", ErrNoEntryPoint
	}
	value, err := fn.Call(otto.UndefinedValue(), targetURL, targetHost)
	if err != nil {
		return "", fmt.Errorf("failed to execute FindProxyForURL in PAC script: %w", err)
	}
	if value.IsNull() || value.IsUndefined() {
		return "", nil
	}
	res, err := value.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert PAC result to string: %w", err)
	}
	return res, nil
}

// --- Cache Management ---

func (e *Engine) getCachedDNS(host string) (string, bool) {
	e.dnsCacheMu.RLock()
	entry, found := e.dnsCache[host]
	e.dnsCacheMu.RUnlock()

	if found && e.now().Before(entry.expiry) {
		slog.Debug("PAC dnsResolve cache hit", "host", host, "ip", entry.ip)
		return entry.ip, true
	}
	return "", false
}

func (e *Engine) setCachedDNS(host, ip string) {
	ttl := e.dnsTTL
	if ip == "" {
		ttl = negativeDNSCacheTTL
	}
	e.dnsCacheMu.Lock()
	e.dnsCache[host] = dnsCacheEntry{ip: ip, expiry: e.now().Add(ttl)}
	e.dnsCacheMu.Unlock()
}

func (e *Engine) getMyIP() (string, bool) {
	e.myIPCacheMu.RLock()
	defer e.myIPCacheMu.RUnlock()
	if e.myIPCache != "" && e.now().Before(e.myIPExpiry) {
		return e.myIPCache, true
	}
	return "", false
}

func (e *Engine) setMyIP(ip string) {
	e.myIPCacheMu.Lock()
	e.myIPCache = ip
	e.myIPExpiry = e.now().Add(myIPCacheTTL)
	e.myIPCacheMu.Unlock()
}

func (e *Engine) cleanupDNSCache() {
	e.dnsCacheMu.Lock()
	now := e.now()
	cleaned := 0
	for host, entry := range e.dnsCache {
		if now.After(entry.expiry) {
			delete(e.dnsCache, host)
			cleaned++
		}
	}
	e.dnsCacheMu.Unlock()
	if cleaned > 0 {
		slog.Debug("Cleaned up expired DNS cache entries", "count", cleaned)
	}
}

func (e *Engine) periodicCacheCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.cleanupDNSCache()
		case <-e.stopChan:
			return
		}
	}
}
