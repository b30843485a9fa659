package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/yolkispalkis/nwutil/pkg/config"
	"github.com/yolkispalkis/nwutil/pkg/weburl"
)

// Mode is the kind of answer a Provider gives for a URL.
type Mode int

const (
	// ModeDirect means no proxy.
	ModeDirect Mode = iota
	// ModeFixed means the proxy in SystemConfig.Proxy.
	ModeFixed
	// ModePAC means the PAC script at SystemConfig.PACURL (or the inline
	// SystemConfig.PACScript) decides.
	ModePAC
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeFixed:
		return "fixed"
	case ModePAC:
		return "pac"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// SystemConfig is the raw proxy configuration a Provider reports for a URL.
// Username and Password apply to the fixed proxy and to proxies a PAC script
// names without credentials of their own.
type SystemConfig struct {
	Mode      Mode
	Proxy     string // host, host:port, user:pass@host:port or a URL
	Username  string
	Password  string
	PACURL    string
	PACScript string
}

// Provider reports the system proxy configuration for a target URL.
type Provider interface {
	ProxyConfigFor(ctx context.Context, target *weburl.URL) (SystemConfig, error)
}

// ProviderFunc adapts an ordinary function to Provider.
type ProviderFunc func(ctx context.Context, target *weburl.URL) (SystemConfig, error)

func (f ProviderFunc) ProxyConfigFor(ctx context.Context, target *weburl.URL) (SystemConfig, error) {
	return f(ctx, target)
}

var pacEnvVars = []string{"PAC_URL", "pac_url", "AUTO_PROXY", "auto_proxy"}

// EnvProvider reads HTTP_PROXY, HTTPS_PROXY and NO_PROXY (and their
// lowercase forms) the way net/http does. A PAC_URL or AUTO_PROXY variable
// takes precedence and selects PAC for every URL.
type EnvProvider struct {
	proxyFunc func(*url.URL) (*url.URL, error)
	pacURL    string
}

// NewEnvProvider snapshots the proxy environment variables.
func NewEnvProvider() *EnvProvider {
	p := &EnvProvider{proxyFunc: httpproxy.FromEnvironment().ProxyFunc()}
	for _, name := range pacEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			p.pacURL = v
			break
		}
	}
	return p
}

func (p *EnvProvider) ProxyConfigFor(ctx context.Context, target *weburl.URL) (SystemConfig, error) {
	if p.pacURL != "" {
		return SystemConfig{Mode: ModePAC, PACURL: p.pacURL}, nil
	}
	reqURL := requestURL(target)
	if reqURL == nil {
		return SystemConfig{Mode: ModeDirect}, nil
	}
	proxyURL, err := p.proxyFunc(reqURL)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("invalid proxy in environment: %w", err)
	}
	if proxyURL == nil {
		return SystemConfig{Mode: ModeDirect}, nil
	}
	sc := SystemConfig{Mode: ModeFixed, Proxy: proxyURL.Scheme + "://" + proxyURL.Host}
	if proxyURL.User != nil {
		sc.Username = proxyURL.User.Username()
		sc.Password, _ = proxyURL.User.Password()
	}
	return sc, nil
}

// requestURL maps target onto the http/https URL that proxy selection works
// with. It returns nil for schemes that are never sent through an HTTP proxy.
func requestURL(target *weburl.URL) *url.URL {
	scheme := target.Scheme()
	switch scheme {
	case "http", "https":
	case "ws":
		scheme = "http"
	case "wss":
		scheme = "https"
	default:
		return nil
	}
	host := target.Hostname()
	if port, ok := target.Port(); ok {
		host = net.JoinHostPort(host, strconv.Itoa(int(port)))
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return &url.URL{Scheme: scheme, Host: host}
}

// ConfigProvider serves the proxy section of the configuration file.
type ConfigProvider struct {
	cfg       config.ProxyConfig
	proxyFunc func(*url.URL) (*url.URL, error)
	env       *EnvProvider
}

// NewConfigProvider creates a provider for cfg. Types http and https name a
// fixed proxy, honouring no_proxy; pac and wpad name a PAC location; env
// defers to the environment; none is always direct.
func NewConfigProvider(cfg config.ProxyConfig) *ConfigProvider {
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	p := &ConfigProvider{cfg: cfg}
	switch cfg.Type {
	case "http", "https":
		if !strings.Contains(p.cfg.URL, "://") {
			p.cfg.URL = cfg.Type + "://" + p.cfg.URL
		}
		pc := &httpproxy.Config{HTTPProxy: p.cfg.URL, HTTPSProxy: p.cfg.URL, NoProxy: cfg.NoProxy}
		p.proxyFunc = pc.ProxyFunc()
	case "wpad":
		if p.cfg.PacURL == "" {
			p.cfg.PacURL = config.DefaultWPADURL
		}
	case "env":
		p.env = NewEnvProvider()
	}
	slog.Debug("Proxy configuration provider ready", "type", p.cfg.Type, "pac_url", p.cfg.PacURL)
	return p
}

func (p *ConfigProvider) ProxyConfigFor(ctx context.Context, target *weburl.URL) (SystemConfig, error) {
	switch p.cfg.Type {
	case "none":
		return SystemConfig{Mode: ModeDirect}, nil
	case "http", "https":
		if reqURL := requestURL(target); reqURL != nil {
			// An unparsable proxy URL is reported by the resolver instead.
			if proxyURL, err := p.proxyFunc(reqURL); err == nil && proxyURL == nil {
				return SystemConfig{Mode: ModeDirect}, nil
			}
		}
		return SystemConfig{
			Mode:     ModeFixed,
			Proxy:    p.cfg.URL,
			Username: p.cfg.Username,
			Password: p.cfg.Password,
		}, nil
	case "pac", "wpad":
		return SystemConfig{
			Mode:     ModePAC,
			PACURL:   p.cfg.PacURL,
			Username: p.cfg.Username,
			Password: p.cfg.Password,
		}, nil
	case "env":
		return p.env.ProxyConfigFor(ctx, target)
	default:
		return SystemConfig{}, fmt.Errorf("unknown proxy type %q", p.cfg.Type)
	}
}
