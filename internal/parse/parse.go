// Package parse converts raw console reply text into typed values.
// All functions are pure and tolerate malformed input by returning empty
// results; one bad reply must never abort a poll cycle.
package parse

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// onlinePrefix matches the "[<n>] " marker some servers prepend to
	// each entry of the online-players listing.
	onlinePrefix = regexp.MustCompile(`^\[\d+\]\s*`)

	digits = regexp.MustCompile(`\d+`)
)

// Usernames extracts the comma-separated name list from a scoreboard
// listing reply of the shape "<count> entries: a, b, c".
func Usernames(reply string) []string {
	return splitListing(reply, false)
}

// OnlinePlayers extracts names from a live-players listing reply. It has
// the same shape as the scoreboard listing but entries may carry a leading
// "[<n>] " prefix which is stripped.
func OnlinePlayers(reply string) []string {
	return splitListing(reply, true)
}

// PlayTimeTicks extracts the first run of digits from a free-form
// scoreboard query reply (e.g. "Alice has 1234 [playtime]"). Returns 0
// when no digits are present.
func PlayTimeTicks(reply string) int64 {
	match := digits.FindString(reply)
	if match == "" {
		return 0
	}

	ticks, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0
	}

	return ticks
}

func splitListing(reply string, stripPrefix bool) []string {
	_, list, found := strings.Cut(reply, ":")
	if !found {
		return nil
	}

	var names []string
	for _, entry := range strings.Split(list, ",") {
		if stripPrefix {
			entry = onlinePrefix.ReplaceAllString(strings.TrimSpace(entry), "")
		}
		entry = strings.TrimSpace(entry)
		if entry != "" {
			names = append(names, entry)
		}
	}

	return names
}
