package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// target is one parsed `scheme://[user[:pass]@]host[:port][/path]`
// argument, per §6's URL syntax.
type target struct {
	Scheme string
	User   string
	Pass   string
	Host   string
	Port   int
	Path   string
}

var defaultPorts = map[string]int{
	"ftp": 21, "http": 80, "https": 443, "hftp": 80, "fish": 22,
}

// parseTarget accepts either a bare local path (no "://") or a
// scheme://... remote URL.
func parseTarget(raw string) (*target, bool, error) {
	if !strings.Contains(raw, "://") {
		return &target{Path: raw}, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false, fmt.Errorf("parsing %q: %w", raw, err)
	}
	t := &target{Scheme: strings.ToLower(u.Scheme), Host: u.Hostname(), Path: u.Path}
	if u.User != nil {
		t.User = u.User.Username()
		t.Pass, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, false, fmt.Errorf("invalid port in %q: %w", raw, err)
		}
		t.Port = port
	} else {
		t.Port = defaultPorts[t.Scheme]
	}
	if strings.HasPrefix(t.Path, "/~") {
		t.Path = t.Path[1:] // "~" at the start of a path means the user's home, per §6
	}
	return t, false, nil
}
