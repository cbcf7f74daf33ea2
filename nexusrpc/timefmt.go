// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// TimestampLayout is used when encoding timestamps in control frames.
	TimestampLayout = "2006-01-02T15:04:05.0000000Z"
	// ParamTimestampLayout is the second-resolution form used for
	// JSON-RPC parameters.
	ParamTimestampLayout = "2006-01-02T15:04:05Z"
)

// FormatTimestamp renders t in UTC with seven fraction digits.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp accepts RFC 3339 with or without a fraction, and a zone-less
// form that is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, marshalErrorf("unable to parse timestamp %q", s)
}

const (
	tick = 100 * time.Nanosecond
	day  = 24 * time.Hour
)

var durationPattern = regexp.MustCompile(`^(?:([0-9]+)\.)?([0-9]{2}):([0-9]{2}):([0-9]{2})(?:\.([0-9]+))?$`)

// FormatDuration renders d as [d.]hh:mm:ss[.fffffff]. The fraction is in
// 100 ns ticks and is omitted when zero, as are zero days. Durations that are
// not a whole number of ticks cannot be encoded.
func FormatDuration(d time.Duration) (string, error) {
	if d < 0 {
		return "", marshalErrorf("negative duration %s cannot be encoded", d)
	}
	if d%tick != 0 {
		return "", marshalErrorf("duration %s is not a multiple of %s", d, tick)
	}
	days := d / day
	d -= days * day
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	frac := d - seconds*time.Second

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%d.", days)
	}
	fmt.Fprintf(&b, "%02d:%02d:%02d", hours, minutes, seconds)
	if ticks := frac / tick; ticks > 0 {
		fmt.Fprintf(&b, ".%07d", ticks)
	}
	return b.String(), nil
}

// ParseDuration parses the [d.]hh:mm:ss[.fraction] grammar. The fraction is
// a decimal fraction of a second.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, marshalErrorf("unable to parse duration %q", s)
	}

	var days int64
	if m[1] != "" {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, marshalErrorf("unable to parse duration %q: %v", s, err)
		}
		days = v
	}
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	seconds, _ := strconv.Atoi(m[4])
	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, marshalErrorf("duration %q is out of range", s)
	}

	var nanos int64
	if frac := m[5]; frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, _ = strconv.ParseInt(frac, 10, 64)
	}

	rest := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(nanos)
	if days > int64(math.MaxInt64-rest)/int64(day) {
		return 0, marshalErrorf("duration %q is out of range", s)
	}
	return time.Duration(days)*day + rest, nil
}
