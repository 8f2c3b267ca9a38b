package twitchirc

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	dropSummaryInterval = 5 * time.Second
	dropSampleMaxLen    = 96
)

var (
	oauthTokenRe = regexp.MustCompile(`(?i)oauth:[^\s;]+`)
	longTokenRe  = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{24,}`)
)

// dropLogger aggregates lines the adapter ignores and emits one slog record
// per reason per interval. With verbose set every line is also logged at
// debug level.
type dropLogger struct {
	verbose  bool
	interval time.Duration
	nextEmit time.Time
	counts   map[string]map[string]int
	samples  map[string]string
}

func newDropLogger(now time.Time, verbose bool) *dropLogger {
	return &dropLogger{
		verbose:  verbose,
		interval: dropSummaryInterval,
		nextEmit: now.Add(dropSummaryInterval),
		counts:   make(map[string]map[string]int),
		samples:  make(map[string]string),
	}
}

func (d *dropLogger) note(now time.Time, reason, line string) {
	if d == nil {
		return
	}
	cmd := ircCommand(line)
	if cmd == "" {
		cmd = "UNKNOWN"
	}
	sample := dropSample(line)
	if d.verbose {
		slog.Debug("twitchirc: dropped line", "reason", reason, "command", cmd, "sample", sample)
	}

	byCmd := d.counts[reason]
	if byCmd == nil {
		byCmd = make(map[string]int)
		d.counts[reason] = byCmd
	}
	byCmd[cmd]++
	if _, ok := d.samples[reason+"/"+cmd]; !ok {
		d.samples[reason+"/"+cmd] = sample
	}

	if !now.Before(d.nextEmit) {
		d.flush(now)
	}
}

func (d *dropLogger) flush(now time.Time) {
	if d == nil {
		return
	}
	reasons := make([]string, 0, len(d.counts))
	for r := range d.counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	for _, reason := range reasons {
		byCmd := d.counts[reason]
		cmds := make([]string, 0, len(byCmd))
		total := 0
		for c, n := range byCmd {
			cmds = append(cmds, c)
			total += n
		}
		sort.Strings(cmds)
		parts := make([]string, 0, len(cmds))
		samples := make([]string, 0, len(cmds))
		for _, c := range cmds {
			parts = append(parts, fmt.Sprintf("%s:%d", c, byCmd[c]))
			samples = append(samples, c+":'"+d.samples[reason+"/"+c]+"'")
		}
		slog.Info("twitchirc: dropped lines",
			"reason", reason,
			"total", total,
			"commands", "{"+strings.Join(parts, " ")+"}",
			"samples", "{"+strings.Join(samples, " ")+"}",
		)
	}

	clear(d.counts)
	clear(d.samples)
	d.nextEmit = now.Add(d.interval)
}

// dropSample is the trailing parameter of a line, or its middle when there
// is none, redacted.
func dropSample(line string) string {
	rest := strings.TrimSpace(line)
	if strings.HasPrefix(rest, "@") {
		if _, after, ok := strings.Cut(rest, " "); ok {
			rest = after
		}
	}
	if strings.HasPrefix(rest, ":") {
		if _, after, ok := strings.Cut(rest, " "); ok {
			rest = after
		}
	}
	if _, trailing, ok := strings.Cut(rest, " :"); ok {
		rest = trailing
	}
	return redact(rest, dropSampleMaxLen)
}

// redact removes credentials from a log sample and truncates it to max bytes.
func redact(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	if upper := strings.ToUpper(s); upper == "PASS" || strings.HasPrefix(upper, "PASS ") {
		return "PASS [REDACTED]"
	}
	s = oauthTokenRe.ReplaceAllString(s, "oauth:[REDACTED]")
	s = longTokenRe.ReplaceAllString(s, "[REDACTED]")
	if max > 3 && len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func debugDropsFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHATDECK_TWITCH_DEBUG_DROPS"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
