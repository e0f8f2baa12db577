package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys are the valid keys of each config section.
var knownSectionKeys = map[string][]string{
	"server":  {"base_url"},
	"auth":    {"token_store", "token_path"},
	"network": {"request_timeout", "user_agent"},
	"logging": {"log_level", "log_format"},
}

// knownSections is the sorted list of section names. Sorted for
// deterministic suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	names := make([]string, 0, len(knownSectionKeys))
	for k := range knownSectionKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// allKnownKeys is every key of every section, sorted. Used to suggest the
// right section when a key is placed at the top level.
var allKnownKeys = func() []string {
	var keys []string
	for _, ks := range knownSectionKeys {
		keys = append(keys, ks...)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. An unknown
// section is reported once, not once per key inside it.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		if len(key) == 0 || reported[key[0]] {
			continue
		}

		if len(key) == 1 && md.Type(key...) != "Hash" {
			errs = append(errs, topLevelKeyError(key[0]))
			continue
		}

		section := key[0]

		known, ok := knownSectionKeys[section]
		if !ok {
			reported[section] = true
			errs = append(errs, sectionError(section))

			continue
		}

		errs = append(errs, sectionKeyError(section, strings.Join(key[1:], "."), known))
	}

	return errors.Join(errs...)
}

// topLevelKeyError describes a key placed outside any section, pointing at
// the section it belongs to when it resembles a known key.
func topLevelKeyError(name string) error {
	if k := closestMatch(name, allKnownKeys); k != "" {
		return fmt.Errorf("unknown config key %q (did you mean %q inside [%s]?)", name, k, sectionOf(k))
	}

	return fmt.Errorf("unknown config key %q", name)
}

func sectionError(section string) error {
	if s := closestMatch(section, knownSections); s != "" {
		return fmt.Errorf("unknown config section [%s] (did you mean [%s]?)", section, s)
	}

	return fmt.Errorf("unknown config section [%s]", section)
}

func sectionKeyError(section, field string, known []string) error {
	if k := closestMatch(field, known); k != "" {
		return fmt.Errorf("unknown config key %q in [%s] (did you mean %q?)", field, section, k)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// sectionOf returns the section that owns key.
func sectionOf(key string) string {
	for _, s := range knownSections {
		for _, k := range knownSectionKeys[s] {
			if k == key {
				return s
			}
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
