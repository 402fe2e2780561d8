package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateEndpointURL validates that a URL is a websocket address (ws or wss)
// with a host. This is a pure function with no side effects.
//
// Returns nil if the URL is valid, or an error describing the validation failure.
func ValidateEndpointURL(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint URL cannot be empty")
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return fmt.Errorf("URL must use ws or wss scheme, got: %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return fmt.Errorf("URL must not carry a query or fragment; the service name is appended as a path segment")
	}
	return nil
}

// ValidateServiceName checks that name can be used as a single URL path segment.
func ValidateServiceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if strings.ContainsAny(name, "/?#% ") {
		return fmt.Errorf("service name %q must not contain '/', '?', '#', '%%' or spaces", name)
	}
	return nil
}
