package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/runframe/agentrelay/internal/netutil"
	"rsc.io/qr"
)

// Level orders log lines by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.Mutex
	noColor bool
	level   = LevelInfo
	out     io.Writer = os.Stderr
)

const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	white   = "\033[37m"

	brightRed  = "\033[91m"
	brightBlue = "\033[94m"

	// 256-color copper shades
	copper     = "\033[38;5;173m"
	hotCopper  = "\033[38;5;208m"
	softCopper = "\033[38;5;180m"
)

func init() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
}

// SetLevel sets the minimum level from a config string. Unknown values
// fall back to info.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(name) {
	case "debug":
		level = LevelDebug
	case "warn", "warning":
		level = LevelWarn
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}
}

// SetOutput redirects all log lines. Tests use it to silence output.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func enabled(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return l >= level
}

func c(code, text string) string {
	if noColor {
		return text
	}
	return code + text + reset
}

func ts() string {
	return c(dim, time.Now().Format("15:04:05"))
}

func write(format string, args ...interface{}) {
	mu.Lock()
	fmt.Fprintf(out, format+"\n", args...)
	mu.Unlock()
}

func Banner(version string) {
	lines := "\n" +
		"  " + c(copper, `┌─┐ ┌─┐`) + "\n" +
		"  " + c(copper, `│▪├─┤▪│`) + "  " + c(bold+brightBlue, "Agent Relay") + " " + c(dim, version) + "\n" +
		"  " + c(copper, `└─┘ └─┘`) + "  " + c(dim, "ui ⇄ agent") + "\n" +
		c(dim, " ─────────────────────────────────") + "\n"
	mu.Lock()
	fmt.Fprint(out, lines)
	mu.Unlock()
}

func Debug(format string, args ...interface{}) {
	if !enabled(LevelDebug) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	write("%s  %s  %s", ts(), c(dim, "·"), c(dim, msg))
}

func Info(format string, args ...interface{}) {
	if !enabled(LevelInfo) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	write("%s  %s  %s", ts(), c(cyan, "~"), msg)
}

func Success(format string, args ...interface{}) {
	if !enabled(LevelInfo) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	write("%s  %s  %s", ts(), c(green, "✓"), msg)
}

func Warn(format string, args ...interface{}) {
	if !enabled(LevelWarn) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	write("%s  %s  %s", ts(), c(yellow, "⚠"), c(yellow, msg))
}

func Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	write("%s  %s  %s", ts(), c(red, "✗"), c(red, msg))
}

func Fatal(format string, args ...interface{}) {
	Error(format, args...)
	os.Exit(1)
}

// WS logs a socket lifecycle or routing line.
func WS(event, detail string) {
	var icon, eventColor string
	switch event {
	case "connected":
		icon = c(hotCopper, "⚡")
		eventColor = hotCopper
	case "disconnected":
		icon = c(softCopper, "·")
		eventColor = softCopper
	case "identified":
		icon = c(brightBlue, "◆")
		eventColor = blue
	default:
		if !enabled(LevelDebug) {
			return
		}
		icon = c(copper, "↔")
		eventColor = copper
	}
	write("%s  %s %s %s",
		ts(),
		icon,
		c(eventColor, fmt.Sprintf("%-14s", "ws:"+event)),
		c(magenta, detail),
	)
}

// Listen prints the relay endpoint and, when a LAN address exists, a QR
// code of the LAN WebSocket URL so a device on the same network can join.
func Listen(addr, url string, port int, path string) {
	write("")
	write("%s  %s  Listening on %s", ts(), c(hotCopper, "⇄"), c(bold+white, addr))
	write("              %s  %s", c(dim, "→"), c(cyan, url))

	if lanIP := netutil.GetLANIP(); lanIP != "" {
		lanURL := fmt.Sprintf("ws://%s:%d%s", lanIP, port, path)
		write("              %s  %s", c(dim, "→"), c(cyan, lanURL))
		write("")
		printQR(lanURL)
		write("              %s", c(dim, "Scan to point a device at this relay"))
	}
	write("")
}

func printQR(url string) {
	code, err := qr.Encode(url, qr.L)
	if err != nil {
		return
	}

	size := code.Size
	quiet := 1
	full := size + quiet*2

	black := func(x, y int) bool {
		qx, qy := x-quiet, y-quiet
		if qx < 0 || qy < 0 || qx >= size || qy >= size {
			return false
		}
		return code.Black(qx, qy)
	}

	for y := 0; y < full; y += 2 {
		var line strings.Builder
		for x := 0; x < full; x++ {
			top := black(x, y)
			bot := y+1 < full && black(x, y+1)

			switch {
			case top && bot:
				line.WriteString("█")
			case top:
				line.WriteString("▀")
			case bot:
				line.WriteString("▄")
			default:
				line.WriteString(" ")
			}
		}
		write("              %s", c(copper, line.String()))
	}
}

func Shutdown(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	write("")
	write("%s  %s  %s", ts(), c(yellow, "■"), c(dim, msg))
}

func Bye() {
	write("%s  %s  %s", ts(), c(dim, "~"), c(dim, "Relay stopped."))
	write("")
}

func HTTP(method, path string, status int, dur time.Duration) {
	if !enabled(LevelInfo) {
		return
	}
	statusStr := fmt.Sprintf("%d", status)
	var coloredStatus string
	switch {
	case status >= 400:
		coloredStatus = "\033[41;97m " + statusStr + " \033[0m"
		if noColor {
			coloredStatus = statusStr
		}
	default:
		coloredStatus = c(dim+copper, statusStr)
	}

	mc := copper
	switch method {
	case "POST", "PUT", "PATCH":
		mc = hotCopper
	case "DELETE":
		mc = brightRed
	}

	write("%s  %s %s %s %s",
		ts(),
		c(mc, "["+method+"]"),
		coloredStatus,
		c(dim, path),
		c(dim, fmtDuration(dur)),
	)
}

func fmtDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		ms := float64(d.Microseconds()) / 1000.0
		if ms < 10 {
			return fmt.Sprintf("%.1fms", ms)
		}
		return fmt.Sprintf("%.0fms", ms)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
