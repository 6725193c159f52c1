// Package identity holds the rotating set of client fingerprints used to
// vary outbound fetch requests.
package identity

import (
	"fmt"

	"github.com/partvault/datasheet-harvester/internal/harvest"
)

// defaultProfiles are browser-like fingerprints iterated in fixed order per
// item so behavior is reproducible across runs.
var defaultProfiles = []harvest.Profile{
	{
		Name: "chrome-win",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			"Accept":          "application/pdf,application/octet-stream,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
	{
		Name: "firefox-win",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
			"Accept":          "application/pdf,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.5",
		},
	},
	{
		Name: "chrome-mac",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
			"Accept":          "application/pdf,application/octet-stream,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
	{
		Name: "safari-mac",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
	{
		Name: "edge-win",
		Headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
			"Accept":          "application/pdf,application/octet-stream,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	},
}

// Pool is a fixed ordered sequence of identity profiles. It is stateless and
// safe for concurrent use.
type Pool struct {
	profiles []harvest.Profile
}

// NewPool builds a pool from the given profiles, requiring at least one.
func NewPool(profiles []harvest.Profile) (*Pool, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("identity pool requires at least one profile")
	}
	return &Pool{profiles: append([]harvest.Profile(nil), profiles...)}, nil
}

// NewDefaultPool builds a pool over the built-in browser fingerprints.
func NewDefaultPool() *Pool {
	pool, _ := NewPool(defaultProfiles)
	return pool
}

// Profiles returns the iteration slice in fixed order. Callers must not
// mutate the returned slice.
func (p *Pool) Profiles() []harvest.Profile {
	return p.profiles
}

// Len reports the number of profiles in the pool.
func (p *Pool) Len() int {
	return len(p.profiles)
}
