package client

import (
	"errors"
	"fmt"
	"net/url"
)

// ParseLaunchURI converts a deep-link invocation into a launch config. The
// link carries the collector under `server`; every other query parameter is
// opaque identity and rides along on all requests.
//
//	mirrorbox://launch?server=https%3A%2F%2Fcollector.example&owner=teacher&workspace=lab1&token=abc
func ParseLaunchURI(raw string) (*Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid launch uri: %w", err)
	}

	query := u.Query()
	server := query.Get("server")
	if server == "" {
		return nil, errors.New("launch uri: server parameter missing")
	}
	if _, err := url.ParseRequestURI(server); err != nil {
		return nil, fmt.Errorf("launch uri: bad server url: %w", err)
	}

	identity := make(map[string]string)
	for key, values := range query {
		if key == "server" || len(values) == 0 {
			continue
		}
		identity[key] = values[0]
	}

	return &Config{
		CollectorURL: server,
		Identity:     identity,
	}, nil
}
