package http

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/lftpgo/xfer/xfer"
)

// ListEntries drives one GET of path to completion and parses its body
// as an HTML directory index, satisfying listinfo's structuredLister
// interface per §4.9's "treats HTML pages as directory listings" —
// the HTTP/HFTP driver has no ls -l-shaped body to hand the generic
// listinfo.Parse, so it supplies a pre-parsed FileSet directly instead.
func (s *Session) ListEntries(ctx context.Context, path string) (*xfer.FileSet, error) {
	if err := s.Open(ctx, xfer.LongList, path, 0); err != nil {
		return nil, err
	}
	var body []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := s.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err == xfer.Again {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	_ = s.Close()
	return ParseHTMLListing(bytes.NewReader(body), path)
}

// ParseHTMLListing walks an HTML directory index the way the teacher's
// backend/http/http.go does (golang.org/x/net/html tokenizing anchors)
// and turns every same-directory <a href> into a FileInfo, per §4.9's
// "treats HTML pages as directory listings". Entries whose href escapes
// base (absolute URLs, parent-directory links, query strings) are
// skipped.
func ParseHTMLListing(body io.Reader, base string) (*xfer.FileSet, error) {
	out := xfer.NewFileSet()
	tokenizer := html.NewTokenizer(body)
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return out, nil
			}
			return out, tokenizer.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			if tok.Data != "a" {
				continue
			}
			href, ok := attr(tok, "href")
			if !ok {
				continue
			}
			name, isDir, ok := cleanHref(href)
			if !ok {
				continue
			}
			fi := xfer.NewFileInfo(name)
			if isDir {
				fi.SetType(xfer.TypeDirectory)
			} else {
				fi.SetType(xfer.TypeNormal)
			}
			out.Add(fi)
		}
	}
}

func attr(tok html.Token, name string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// cleanHref keeps only same-directory relative links, per the teacher's
// filtering of "../" and absolute/query-bearing hrefs.
func cleanHref(href string) (name string, isDir bool, ok bool) {
	u, err := url.Parse(href)
	if err != nil || u.IsAbs() || u.Host != "" || u.RawQuery != "" {
		return "", false, false
	}
	p := u.Path
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, "..") {
		return "", false, false
	}
	isDir = strings.HasSuffix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" || strings.Contains(p, "/") {
		return "", false, false
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", false, false
	}
	return decoded, isDir, true
}
