package pac

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robertkrimen/otto"
)

// callEnv binds the context-aware builtins to one evaluation.
type callEnv struct {
	ctx    context.Context
	engine *Engine
}

func (e *Engine) registerBuiltins(ctx context.Context, vm *otto.Otto) error {
	env := &callEnv{ctx: ctx, engine: e}
	helpers := map[string]interface{}{
		"isPlainHostName":     pacIsPlainHostName,
		"dnsDomainIs":         pacDnsDomainIs,
		"localHostOrDomainIs": pacLocalHostOrDomainIs,
		"isResolvable":        env.pacIsResolvable,
		"isInNet":             env.pacIsInNet,
		"dnsResolve":          env.pacDnsResolve,
		"myIpAddress":         env.pacMyIpAddress,
		"dnsDomainLevels":     pacDnsDomainLevels,
		"shExpMatch":          pacShExpMatch,
		"weekdayRange":        env.pacWeekdayRange,
		"dateRange":           env.pacDateRange,
		"timeRange":           env.pacTimeRange,
		"alert":               pacAlert,

		// Microsoft IPv6 extensions, answered from the IPv4 helpers.
		"myIpAddressEx":  env.pacMyIpAddress,
		"dnsResolveEx":   env.pacDnsResolve,
		"isResolvableEx": env.pacIsResolvable,
		"isInNetEx": func(call otto.FunctionCall) otto.Value {
			slog.Warn("PAC function 'isInNetEx' not implemented")
			return otto.FalseValue()
		},
		"sortIpAddressList": func(call otto.FunctionCall) otto.Value {
			arg0 := call.Argument(0)
			if arg0.IsString() {
				return arg0
			}
			return otto.NullValue()
		},
	}

	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func boolValue(call otto.FunctionCall, b bool) otto.Value {
	v, _ := call.Otto.ToValue(b)
	return v
}

func stringValue(call otto.FunctionCall, s string) otto.Value {
	v, _ := call.Otto.ToValue(s)
	return v
}

func pacAlert(call otto.FunctionCall) otto.Value {
	message, _ := call.Argument(0).ToString()
	slog.Warn("[PAC Alert]", "message", message)
	return otto.UndefinedValue()
}

func pacIsPlainHostName(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	return boolValue(call, !strings.Contains(host, ".") && net.ParseIP(host) == nil)
}

func pacDnsDomainIs(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	domain, _ := call.Argument(1).ToString()
	return boolValue(call, dnsDomainIs(host, domain))
}

func dnsDomainIs(host, domain string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	domain = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(domain, "."), "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// localHostOrDomainIs is true for an exact match, or when host is
// unqualified and equals the first label of hostdom.
func pacLocalHostOrDomainIs(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	hostdom, _ := call.Argument(1).ToString()
	host, hostdom = strings.ToLower(host), strings.ToLower(hostdom)

	result := host == hostdom
	if !result && !strings.Contains(host, ".") {
		result = strings.HasPrefix(hostdom, host+".")
	}
	return boolValue(call, result)
}

func pacDnsDomainLevels(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	host = strings.TrimSuffix(host, ".")

	levels := 0
	if host != "" && net.ParseIP(host) == nil {
		levels = strings.Count(host, ".")
	}
	v, _ := call.Otto.ToValue(levels)
	return v
}

func pacShExpMatch(call otto.FunctionCall) otto.Value {
	str, _ := call.Argument(0).ToString()
	pattern, _ := call.Argument(1).ToString()
	return boolValue(call, shExpMatch(str, pattern))
}

// shExpMatch matches a shell expression where '*' and '?' also match '/'.
func shExpMatch(str, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		slog.Warn("Error in PAC shExpMatch evaluation", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(str)
}

// --- Helpers using Engine state (DNS/IP caches) ---

func (c *callEnv) resolve(host string) (string, bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", false
	}
	if net.ParseIP(host) != nil {
		return host, true
	}

	e := c.engine
	if ip, found := e.getCachedDNS(host); found {
		return ip, ip != ""
	}

	lookupCtx, cancel := context.WithTimeout(c.ctx, dnsLookupTimeout)
	defer cancel()

	ips, err := e.lookupHost(lookupCtx, host)
	if err != nil || len(ips) == 0 {
		var dnsErr *net.DNSError
		switch {
		case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
			slog.Debug("PAC dnsResolve: host not found", "host", host)
		case c.ctx.Err() != nil:
			// The evaluation deadline expired; do not cache a failure that
			// says nothing about the host.
			slog.Debug("PAC dnsResolve: evaluation deadline reached", "host", host)
			return "", false
		default:
			slog.Warn("PAC dnsResolve: DNS lookup failed", "host", host, "error", err)
		}
		e.setCachedDNS(host, "")
		return "", false
	}

	ip := ips[0]
	for _, candidate := range ips {
		if parsed := net.ParseIP(candidate); parsed != nil && parsed.To4() != nil {
			ip = candidate
			break
		}
	}
	e.setCachedDNS(host, ip)
	return ip, true
}

func (c *callEnv) pacDnsResolve(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	ip, ok := c.resolve(host)
	if !ok {
		return otto.NullValue()
	}
	return stringValue(call, ip)
}

func (c *callEnv) pacIsResolvable(call otto.FunctionCall) otto.Value {
	host, _ := call.Argument(0).ToString()
	_, ok := c.resolve(host)
	return boolValue(call, ok)
}

func (c *callEnv) pacMyIpAddress(call otto.FunctionCall) otto.Value {
	e := c.engine
	if ip, found := e.getMyIP(); found {
		return stringValue(call, ip)
	}
	ip := e.findMyIP()
	e.setMyIP(ip)
	return stringValue(call, ip)
}

// findMyIP returns the first usable IPv4 address of this host, then the first
// global IPv6 address, then 127.0.0.1.
func (e *Engine) findMyIP() string {
	addrs, err := e.interfaceAddrs()
	if err != nil {
		slog.Warn("PAC myIpAddress: failed to get interface addresses", "error", err)
		return "127.0.0.1"
	}

	var firstIPv6Global string
	for _, address := range addrs {
		ipnet, ok := address.(*net.IPNet)
		if !ok || ipnet.IP == nil {
			continue
		}
		ip := ipnet.IP
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() || ip.IsMulticast() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
		if firstIPv6Global == "" && ip.IsGlobalUnicast() {
			firstIPv6Global = ip.String()
		}
	}
	if firstIPv6Global != "" {
		return firstIPv6Global
	}
	slog.Debug("PAC myIpAddress: no suitable address, falling back to 127.0.0.1")
	return "127.0.0.1"
}

func (c *callEnv) pacIsInNet(call otto.FunctionCall) otto.Value {
	argHost := call.Argument(0)
	patternStr, errP := call.Argument(1).ToString()
	maskStr, errM := call.Argument(2).ToString()
	if errP != nil || errM != nil || !argHost.IsString() {
		slog.Warn("PAC isInNet: invalid arguments")
		return otto.FalseValue()
	}

	hostStr, _ := argHost.ToString()
	hostIP, ok := c.resolve(hostStr)
	if !ok {
		return otto.FalseValue()
	}
	return boolValue(call, ipIsInNet(hostIP, patternStr, maskStr))
}

func ipIsInNet(ipStr, patternStr, maskStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	if _, ipNet, err := net.ParseCIDR(patternStr); err == nil && (maskStr == "" || net.ParseIP(maskStr) == nil) {
		return ipNet.Contains(ip)
	}

	patternIP := net.ParseIP(patternStr)
	maskIP := net.ParseIP(maskStr)
	if patternIP == nil || maskIP == nil {
		slog.Warn("PAC isInNet: failed to parse pattern or mask", "pattern", patternStr, "mask", maskStr)
		return false
	}

	if ip.To4() != nil && patternIP.To4() != nil && maskIP.To4() != nil {
		mask := net.IPMask(maskIP.To4())
		return ip.To4().Mask(mask).Equal(patternIP.To4().Mask(mask))
	}
	if ip.To4() == nil && patternIP.To4() == nil {
		mask := net.IPMask(maskIP.To16())
		return ip.To16().Mask(mask).Equal(patternIP.To16().Mask(mask))
	}
	slog.Warn("PAC isInNet: IP address versions mismatch", "ip", ipStr, "pattern", patternStr, "mask", maskStr)
	return false
}

// --- Time based helpers ---

// timeArgs splits off a trailing "GMT" argument and returns the clock to use.
func (c *callEnv) timeArgs(call otto.FunctionCall) ([]string, time.Time) {
	args := make([]string, 0, len(call.ArgumentList))
	for _, v := range call.ArgumentList {
		s, _ := v.ToString()
		args = append(args, s)
	}
	now := c.engine.now()
	if n := len(args); n > 0 && strings.EqualFold(args[n-1], "GMT") {
		args = args[:n-1]
		now = now.UTC()
	}
	return args, now
}

func (c *callEnv) pacWeekdayRange(call otto.FunctionCall) otto.Value {
	args, now := c.timeArgs(call)
	if len(args) < 1 || len(args) > 2 {
		slog.Warn("PAC weekdayRange: incorrect number of arguments")
		return otto.FalseValue()
	}
	wd1 := parseWeekday(args[0])
	wd2 := wd1
	if len(args) == 2 {
		wd2 = parseWeekday(args[1])
	}
	if wd1 < 0 || wd2 < 0 {
		slog.Warn("PAC weekdayRange: invalid weekday string", "args", args)
		return otto.FalseValue()
	}
	return boolValue(call, inCyclicRange(int(now.Weekday()), int(wd1), int(wd2)))
}

func parseWeekday(s string) time.Weekday {
	switch strings.ToUpper(s) {
	case "SUN":
		return time.Sunday
	case "MON":
		return time.Monday
	case "TUE":
		return time.Tuesday
	case "WED":
		return time.Wednesday
	case "THU":
		return time.Thursday
	case "FRI":
		return time.Friday
	case "SAT":
		return time.Saturday
	}
	return -1
}

var monthNames = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March, "APR": time.April,
	"MAY": time.May, "JUN": time.June, "JUL": time.July, "AUG": time.August,
	"SEP": time.September, "OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// datePart is one dateRange argument: a day of month, a month or a year.
type datePart struct {
	kind  byte // 'd', 'm' or 'y'
	value int
}

func parseDatePart(s string) (datePart, bool) {
	if m, ok := monthNames[strings.ToUpper(s)]; ok {
		return datePart{'m', int(m)}, true
	}
	n, err := strconv.Atoi(s)
	switch {
	case err != nil:
		return datePart{}, false
	case n >= 1 && n <= 31:
		return datePart{'d', n}, true
	case n > 31:
		return datePart{'y', n}, true
	}
	return datePart{}, false
}

// pacDateRange supports dateRange(day), (month), (year), and ranges of the
// same shape: (d1, d2), (m1, m2), (y1, y2), (d1, m1, d2, m2),
// (m1, y1, m2, y2) and (d1, m1, y1, d2, m2, y2).
func (c *callEnv) pacDateRange(call otto.FunctionCall) otto.Value {
	args, now := c.timeArgs(call)
	parts := make([]datePart, 0, len(args))
	for _, a := range args {
		p, ok := parseDatePart(a)
		if !ok {
			slog.Warn("PAC dateRange: invalid argument", "arg", a)
			return otto.FalseValue()
		}
		parts = append(parts, p)
	}

	value := func(p datePart) int {
		switch p.kind {
		case 'd':
			return now.Day()
		case 'm':
			return int(now.Month())
		}
		return now.Year()
	}
	// key orders a date by the parts present so ranges compare correctly.
	key := func(ps []datePart) (cur, bound int) {
		for _, p := range ps {
			scale := 100
			if p.kind == 'y' {
				scale = 10000
			}
			cur = cur*scale + value(p)
			bound = bound*scale + p.value
		}
		return cur, bound
	}

	switch len(parts) {
	case 1:
		return boolValue(call, value(parts[0]) == parts[0].value)
	case 2, 4, 6:
		half := len(parts) / 2
		lo, hi := parts[:half], parts[half:]
		for i := range lo {
			if lo[i].kind != hi[i].kind {
				slog.Warn("PAC dateRange: mismatched range arguments", "args", args)
				return otto.FalseValue()
			}
		}
		// Years go first when comparing, then months, then days.
		lo, hi = orderDateParts(lo), orderDateParts(hi)
		cur, from := key(lo)
		_, to := key(hi)
		if lo[0].kind == 'y' {
			return boolValue(call, from <= cur && cur <= to)
		}
		return boolValue(call, inCyclicRange(cur, from, to))
	}
	slog.Warn("PAC dateRange: incorrect number of arguments", "count", len(parts))
	return otto.FalseValue()
}

func orderDateParts(ps []datePart) []datePart {
	rank := map[byte]int{'y': 0, 'm': 1, 'd': 2}
	out := append([]datePart(nil), ps...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank[out[j].kind] < rank[out[j-1].kind]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// pacTimeRange supports (hour), (h1, h2), (h1, m1, h2, m2) and
// (h1, m1, s1, h2, m2, s2). The upper bound of an hour-only range is
// inclusive of that whole hour.
func (c *callEnv) pacTimeRange(call otto.FunctionCall) otto.Value {
	args, now := c.timeArgs(call)
	nums := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			slog.Warn("PAC timeRange: invalid argument", "arg", a)
			return otto.FalseValue()
		}
		nums = append(nums, n)
	}

	cur := now.Hour()*3600 + now.Minute()*60 + now.Second()
	var from, to int
	switch len(nums) {
	case 1:
		return boolValue(call, now.Hour() == nums[0])
	case 2:
		from, to = nums[0]*3600, nums[1]*3600+3599
	case 4:
		from, to = nums[0]*3600+nums[1]*60, nums[2]*3600+nums[3]*60+59
	case 6:
		from, to = nums[0]*3600+nums[1]*60+nums[2], nums[3]*3600+nums[4]*60+nums[5]
	default:
		slog.Warn("PAC timeRange: incorrect number of arguments", "count", len(nums))
		return otto.FalseValue()
	}
	return boolValue(call, inCyclicRange(cur, from, to))
}

// inCyclicRange reports whether v lies in [from, to], wrapping around when
// from is greater than to (e.g. FRI to MON, or 22h to 6h).
func inCyclicRange(v, from, to int) bool {
	if from <= to {
		return from <= v && v <= to
	}
	return v >= from || v <= to
}
