package identity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnresolvable = errors.New("listing url cannot be resolved")

// Origin returns scheme://host of the source url.
func Origin(sourceURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: source %q is not absolute", ErrUnresolvable, sourceURL)
	}
	return &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host)}, nil
}

// Resolve turns an href found on the source page into an absolute url.
// Relative hrefs resolve against the origin of sourceURL, not its path.
func Resolve(sourceURL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("%w: empty href", ErrUnresolvable)
	}

	origin, err := Origin(sourceURL)
	if err != nil {
		return "", err
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	var abs *url.URL
	if ref.IsAbs() {
		abs = ref
	} else {
		if !strings.HasPrefix(ref.Path, "/") && ref.Host == "" {
			ref.Path = "/" + ref.Path
		}
		abs = origin.ResolveReference(ref)
	}

	if (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, href)
	}
	return abs.String(), nil
}

// Key is the stable de-duplication key for a listing: the resolved url with
// scheme and host lowercased and the fragment dropped.
func Key(sourceURL, href string) (string, error) {
	abs, err := Resolve(sourceURL, href)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
