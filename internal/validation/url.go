// Package validation checks the addresses excerpt is configured with and
// the link and colour attributes it writes into rendered HTML.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// dangerous characters are rejected in hosts and URLs before parsing
var dangerous = []string{";", "&", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", "\n", "\r", " "}

func containsDangerous(s string) (string, bool) {
	for _, char := range dangerous {
		if strings.Contains(s, char) {
			return char, true
		}
	}
	return "", false
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	if char, bad := containsDangerous(rawURL); bad {
		return fmt.Errorf("URL contains dangerous character %q", char)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	return nil
}

// ValidateOrigin checks that origin is "*" or a bare http(s) origin:
// scheme and host, no path, query or credentials.
func ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	if err := ValidateURL(origin); err != nil {
		return err
	}
	parsed, _ := url.Parse(origin)
	if parsed.User != nil {
		return fmt.Errorf("origin must not carry credentials")
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("origin must be scheme://host[:port] only")
	}
	return nil
}

// ValidateHost checks a bind host.
func ValidateHost(host string) error {
	if char, bad := containsDangerous(host); bad {
		return fmt.Errorf("contains dangerous character %q", char)
	}
	return nil
}

// OriginHost returns the host[:port] of a valid origin, or "" for "*".
func OriginHost(origin string) string {
	if origin == "*" {
		return ""
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// ValidateHref checks a link target written into rendered HTML. Absolute
// targets must be http(s) or mailto; relative references are allowed.
func ValidateHref(href string) error {
	if href == "" {
		return fmt.Errorf("empty link")
	}
	if char, bad := containsDangerous(href); bad {
		return fmt.Errorf("link contains dangerous character %q", char)
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}
	switch parsed.Scheme {
	case "":
		if strings.HasPrefix(href, "//") {
			return fmt.Errorf("protocol-relative links are not allowed")
		}
		return nil
	case "mailto":
		return nil
	case "http", "https":
		return ValidateURL(href)
	default:
		return fmt.Errorf("invalid link scheme: %q", parsed.Scheme)
	}
}

var colorToken = regexp.MustCompile(`^(#[0-9a-fA-F]{3}|#[0-9a-fA-F]{4}|#[0-9a-fA-F]{6}|#[0-9a-fA-F]{8}|[a-zA-Z]{1,32})$`)

// ValidateColor checks that color is a hex colour or a named colour.
func ValidateColor(color string) error {
	if !colorToken.MatchString(color) {
		return fmt.Errorf("invalid colour %q", color)
	}
	return nil
}
