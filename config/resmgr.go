// Package config is the read-only ResMgr consumer contract (§6): the
// core never writes configuration, it only looks keys up, optionally
// scoped by a "closure" (typically the target hostname) with wildcard
// fallback. Modeled on the config:"..." struct-tag binding visible at
// backend/ftp/ftp.go's Options struct and its
// fs/config/configmap+configstruct call sites; those packages'
// sources were not retrieved into the pack, only their usage, so the
// binding here is a fresh implementation of the same shape.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Store is the read-only key/value contract the core consumes.
type Store interface {
	// Get returns the value for key, optionally narrowed by closure
	// (e.g. a hostname). Wildcard entries registered for "*.example.com"
	// or bare keys without a closure are consulted as fallback.
	Get(key, closure string) (string, bool)
}

// Map is an in-memory Store, keyed "key" or "key/closure". Closures may
// contain a single leading "*" wildcard segment, e.g. "*.example.com".
type Map struct {
	values map[string]string
}

// NewMap builds an empty Map.
func NewMap() *Map { return &Map{values: map[string]string{}} }

// Set records a value for key, optionally scoped to closure ("" for
// the default / no-closure value).
func (m *Map) Set(key, closure, value string) *Map {
	m.values[entryKey(key, closure)] = value
	return m
}

func entryKey(key, closure string) string {
	if closure == "" {
		return key
	}
	return key + "/" + closure
}

// Get implements Store. Lookup order: exact (key, closure), then each
// registered wildcard pattern for key that matches closure, then the
// bare (key, "") default.
func (m *Map) Get(key, closure string) (string, bool) {
	if closure != "" {
		if v, ok := m.values[entryKey(key, closure)]; ok {
			return v, true
		}
		prefix := key + "/"
		for k, v := range m.values {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			pattern := k[len(prefix):]
			if matchWildcard(pattern, closure) {
				return v, true
			}
		}
	}
	if v, ok := m.values[key]; ok {
		return v, true
	}
	return "", false
}

func matchWildcard(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	star := strings.IndexByte(pattern, '*')
	prefix, suffix := pattern[:star], pattern[star+1:]
	return strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) && len(s) >= len(prefix)+len(suffix)
}

// trueTokens / falseTokens implement the generous boolean parsing
// required by §6: "t/T/f/F/y/Y/n/N/1/0/on/off".
var (
	trueTokens  = map[string]bool{"t": true, "T": true, "y": true, "Y": true, "1": true, "on": true, "true": true, "yes": true}
	falseTokens = map[string]bool{"f": true, "F": true, "n": true, "N": true, "0": true, "off": true, "false": true, "no": true}
)

// ParseBool parses the generous boolean token set from §6.
func ParseBool(s string) (bool, bool) {
	if trueTokens[s] {
		return true, true
	}
	if falseTokens[s] {
		return false, true
	}
	return false, false
}

// GetBool looks up key/closure and parses it as a boolean, falling
// back to def when unset or unparsable.
func GetBool(s Store, key, closure string, def bool) bool {
	v, ok := s.Get(key, closure)
	if !ok {
		return def
	}
	b, ok := ParseBool(v)
	if !ok {
		return def
	}
	return b
}

// GetDuration looks up key/closure and parses it with
// time.ParseDuration, falling back to def when unset or unparsable.
func GetDuration(s Store, key, closure string, def time.Duration) time.Duration {
	v, ok := s.Get(key, closure)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetInt looks up key/closure and parses it as an integer, falling
// back to def when unset or unparsable.
func GetInt(s Store, key, closure string, def int) int {
	v, ok := s.Get(key, closure)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetFloat looks up key/closure and parses it as a float, falling
// back to def when unset or unparsable.
func GetFloat(s Store, key, closure string, def float64) float64 {
	v, ok := s.Get(key, closure)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetString looks up key/closure, falling back to def when unset.
func GetString(s Store, key, closure string, def string) string {
	v, ok := s.Get(key, closure)
	if !ok {
		return def
	}
	return v
}

// Keys used by the core, per §6. Declared as constants so drivers
// never typo a lookup.
const (
	KeyNetTimeout                = "net:timeout"
	KeyNetIdle                   = "net:idle"
	KeyNetMaxRetries             = "net:max-retries"
	KeyNetPersistRetries         = "net:persist-retries"
	KeyNetReconnectBase          = "net:reconnect-interval-base"
	KeyNetReconnectMultiplier    = "net:reconnect-interval-multiplier"
	KeyNetReconnectMax           = "net:reconnect-interval-max"
	KeyNetSocketBuffer           = "net:socket-buffer"
	KeyNetSocketMaxSeg           = "net:socket-maxseg"
	KeyNetConnectionLimit        = "net:connection-limit"
	KeyNetConnectionTakeover     = "net:connection-takeover"
	KeyNetLimitRate              = "net:limit-rate"
	KeyNetLimitMax               = "net:limit-max"
	KeyNetLimitTotalRate         = "net:limit-total-rate"
	KeyNetLimitTotalMax          = "net:limit-total-max"
	KeyNetNoProxy                = "net:no-proxy"
	KeyNetSocketBindIPv4         = "net:socket-bind-ipv4"
	KeyNetSocketBindIPv6         = "net:socket-bind-ipv6"
	KeyDNSCacheEnable            = "dns:cache-enable"
	KeyDNSCacheExpire            = "dns:cache-expire"
	KeyDNSCacheSize              = "dns:cache-size"
	KeyDNSOrder                  = "dns:order"
	KeyDNSSRVQuery               = "dns:SRV-query"
	KeyFTPPassiveMode            = "ftp:passive-mode"
	KeyFTPPortRange              = "ftp:port-range"
	KeyFTPPortIPv4               = "ftp:port-ipv4"
	KeyFTPNopInterval            = "ftp:nop-interval"
	KeyFTPRetry530               = "ftp:retry-530"
	KeyFTPRetry530Anonymous      = "ftp:retry-530-anonymous"
	KeyFTPSSLProtectData         = "ftp:ssl-protect-data"
	KeyHFTPProxy                 = "hftp:proxy"
	KeyHFTPUseType               = "hftp:use-type"
	KeyHTTPProxy                 = "http:proxy"
	KeyHTTPSProxy                = "https:proxy"
	KeyFishShell                 = "fish:shell"
	KeyFishCharset               = "fish:charset"
	KeyFishConnectProgram        = "fish:connect-program"
	KeyMirrorTimePrecision       = "mirror:time-precision"
	KeyMirrorLooseTimePrecision  = "mirror:loose-time-precision"
	KeyCmdDefaultProtocol        = "cmd:default-protocol"
)
