// Package cookie reads browser cookies from a Netscape cookies.txt file and
// reports changes to it.
package cookie

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"permgate/internal/domain"
)

const httpOnlyPrefix = "#HttpOnly_"

// Cookie is one entry of a cookies.txt file.
type Cookie struct {
	Domain            string
	IncludeSubdomains bool
	Path              string
	Secure            bool
	HTTPOnly          bool
	Expires           time.Time // zero for session cookies
	Name              string
	Value             string
}

// Session reports whether c has no expiry.
func (c Cookie) Session() bool { return c.Expires.IsZero() }

// ExpiredAt reports whether c is expired at t. Session cookies count as expired.
func (c Cookie) ExpiredAt(t time.Time) bool {
	return c.Session() || !c.Expires.After(t)
}

// key identifies a cookie for change detection.
func (c Cookie) key() string { return c.Domain + "\t" + c.Path + "\t" + c.Name }

// Matches reports whether c would be sent to u.
func (c Cookie) Matches(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	dom := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
	switch {
	case host == dom:
	case (c.IncludeSubdomains || strings.HasPrefix(c.Domain, ".")) && strings.HasSuffix(host, "."+dom):
	default:
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	return strings.HasPrefix(p, c.Path)
}

// Parse reads cookies in Netscape cookies.txt format.
func Parse(r io.Reader) ([]Cookie, error) {
	var out []Cookie
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		httpOnly := false
		if strings.HasPrefix(text, httpOnlyPrefix) {
			httpOnly = true
			text = strings.TrimPrefix(text, httpOnlyPrefix)
		}
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: %w: want 7 fields, got %d", line, domain.ErrCookieParse, len(fields))
		}
		expires, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w: expiry %q", line, domain.ErrCookieParse, fields[4])
		}
		c := Cookie{
			Domain:            fields[0],
			IncludeSubdomains: strings.EqualFold(fields[1], "TRUE"),
			Path:              fields[2],
			Secure:            strings.EqualFold(fields[3], "TRUE"),
			HTTPOnly:          httpOnly,
			Name:              fields[5],
			Value:             fields[6],
		}
		if expires > 0 {
			c.Expires = time.Unix(expires, 0)
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return out, nil
}

// FileStore answers cookie lookups from a cookies.txt file. The file is
// re-read on every lookup so external writers are always observed.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// All returns every cookie in the file. A missing file yields no cookies.
func (s *FileStore) All() ([]Cookie, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Lookup returns the cookie called name that would be sent to rawURL, or
// nil if there is none. When several match, the longest path wins.
func (s *FileStore) Lookup(rawURL, name string) (*Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cookie lookup url: %w: %v", domain.ErrInvalidInput, err)
	}
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	var best *Cookie
	for i := range all {
		c := &all[i]
		if c.Name != name || !c.Matches(u) {
			continue
		}
		if best == nil || len(c.Path) > len(best.Path) {
			best = c
		}
	}
	return best, nil
}
