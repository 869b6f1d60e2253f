// Package startup prints the console banner shown when the server starts.
package startup

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"
)

const (
	// ANSI color codes
	reset = "\033[0m"
	bold  = "\033[1m"
	dim   = "\033[2m"
	cyan  = "\033[36m"
	green = "\033[32m"
	white = "\033[37m"

	indent = "    "
)

// BannerOptions configures the startup banner display.
type BannerOptions struct {
	Version    string
	LocalURL   string
	NetworkURL string // Empty if no LAN address was found
	Agent      string
	WorkDir    string
	DataDir    string
	Store      string
}

// Printer writes the banner. Colors are used only when Out is a terminal.
type Printer struct {
	Out    io.Writer
	colors bool
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{Out: w, colors: colorsEnabled(w)}
}

// colorsEnabled returns true if ANSI colors should be used.
func colorsEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// color wraps text with ANSI color codes if colors are enabled.
func (p *Printer) color(code, text string) string {
	if !p.colors {
		return text
	}
	return code + text + reset
}

// PrintBanner displays the startup banner with the given options.
func (p *Printer) PrintBanner(opts BannerOptions) {
	fmt.Fprintln(p.Out)

	logo := p.color(cyan, "◆") + "  " + p.color(bold+white, "A I O S   C H A T")
	fmt.Fprintf(p.Out, "%s%s%s%s\n", indent, logo, strings.Repeat(" ", 24), p.color(dim, opts.Version))
	fmt.Fprintln(p.Out)

	fmt.Fprintf(p.Out, "%s%s    %s\n", indent, p.color(dim, "▸ Local"), p.color(green, opts.LocalURL))
	if opts.NetworkURL != "" {
		fmt.Fprintf(p.Out, "%s%s  %s\n", indent, p.color(dim, "▸ Network"), p.color(green, opts.NetworkURL))
	}
	fmt.Fprintf(p.Out, "%s%s    %s\n", indent, p.color(dim, "▸ Agent"), opts.Agent)
	fmt.Fprintf(p.Out, "%s%s  %s\n", indent, p.color(dim, "▸ Work dir"), opts.WorkDir)
	fmt.Fprintf(p.Out, "%s%s  %s (%s)\n", indent, p.color(dim, "▸ History"), opts.DataDir, opts.Store)

	fmt.Fprintln(p.Out)
}

// PrintQRCode prints an indented QR code with a label on the side.
func (p *Printer) PrintQRCode(url string) {
	var buf bytes.Buffer
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.L,
		Writer:         &buf,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		QuietZone:      1,
	})

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}

	// Place label at vertical center of QR code
	midLine := len(lines) / 2
	for i, line := range lines {
		if i == midLine {
			fmt.Fprintf(p.Out, "%s%s  %s\n", indent, line, p.color(dim, "Scan to open on your network"))
		} else {
			fmt.Fprintf(p.Out, "%s%s\n", indent, line)
		}
	}
	fmt.Fprintln(p.Out)
}

// PrintFooter prints the footer with shutdown instructions.
func (p *Printer) PrintFooter() {
	fmt.Fprintf(p.Out, "%s%s\n", indent, p.color(dim, "Press Ctrl+C to stop"))
	fmt.Fprintln(p.Out)
}

// PrintPortInUse explains how to find the process holding the port.
func (p *Printer) PrintPortInUse(port int) {
	fmt.Fprintln(p.Out)
	fmt.Fprintf(p.Out, "%sPort %d is already in use.\n", indent, port)
	fmt.Fprintf(p.Out, "%sFind the owner with: lsof -i :%d  (Windows: netstat -ano | findstr :%d)\n", indent, port, port)
	fmt.Fprintf(p.Out, "%sThen stop it, or start with --port <other>.\n", indent)
	fmt.Fprintln(p.Out)
}

// NetworkURL returns an http URL on the first non-loopback IPv4 address, or ""
// when the host has none.
func NetworkURL(port int) string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return fmt.Sprintf("http://%s:%d", ip4, port)
		}
	}
	return ""
}
