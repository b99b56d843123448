package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PaulBabatuyi/amana-chat/internal/room"
)

// hslToRGB converts a hue in degrees with fixed saturation and lightness.
func hslToRGB(hue int, s, l float64) (r, g, b uint8) {
	h := float64(((hue%360)+360)%360) / 60
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h, 2)-1))
	m := l - c/2

	var rf, gf, bf float64
	switch {
	case h < 1:
		rf, gf, bf = c, x, 0
	case h < 2:
		rf, gf, bf = x, c, 0
	case h < 3:
		rf, gf, bf = 0, c, x
	case h < 4:
		rf, gf, bf = 0, x, c
	case h < 5:
		rf, gf, bf = x, 0, c
	default:
		rf, gf, bf = c, 0, x
	}
	to8 := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return to8(rf), to8(gf), to8(bf)
}

// colorName wraps name in a 24-bit ANSI colour derived from room.NameHue.
func colorName(name string, enabled bool) string {
	if !enabled {
		return name
	}
	r, g, b := hslToRGB(room.NameHue(name), 0.7, 0.5)
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm%s\x1b[0m", r, g, b, name)
}

func formatMessage(m room.LiveMessage, color bool, loc *time.Location) string {
	ts := time.UnixMilli(m.Timestamp).In(loc).Format("15:04")
	return fmt.Sprintf("[%s] %s: %s", ts, colorName(m.Username, color), m.Text)
}

// formatMembers renders the roster line, marking the caller and typists.
func formatMembers(members []room.Member, selfID string, color bool) string {
	if len(members) == 0 {
		return "Online: nobody"
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		n := colorName(m.Name, color)
		if m.ClientID == selfID {
			n += " (you)"
		}
		if m.Typing {
			n += " ✎"
		}
		names = append(names, n)
	}
	return fmt.Sprintf("Online (%d): %s", len(members), strings.Join(names, ", "))
}

// printer writes view changes as a line stream. It remembers what it has
// printed so each message appears once and presence changes print as
// join/leave/typing notices.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	selfID  string
	color   bool
	loc     *time.Location
	seen    map[string]struct{}
	members map[string]room.Member
	online  bool
}

func newPrinter(out io.Writer, selfID string, color bool) *printer {
	return &printer{
		out:     out,
		selfID:  selfID,
		color:   color,
		loc:     time.Local,
		seen:    map[string]struct{}{},
		members: map[string]room.Member{},
	}
}

// Render is a room.Config.OnChange callback.
func (p *printer) Render(v room.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Connected != p.online && v.State == room.StateLive {
		if v.Connected {
			fmt.Fprintln(p.out, "* connected")
		} else {
			fmt.Fprintln(p.out, "* connection lost")
		}
	}
	p.online = v.Connected

	for _, m := range v.Messages {
		if _, ok := p.seen[m.MessageID]; ok {
			continue
		}
		p.seen[m.MessageID] = struct{}{}
		fmt.Fprintln(p.out, formatMessage(m, p.color, p.loc))
	}

	next := make(map[string]room.Member, len(v.Members))
	for _, m := range v.Members {
		next[m.ClientID] = m
		prev, ok := p.members[m.ClientID]
		switch {
		case !ok && m.ClientID != p.selfID:
			fmt.Fprintf(p.out, "* %s joined\n", colorName(m.Name, p.color))
		case ok && !prev.Typing && m.Typing && m.ClientID != p.selfID:
			fmt.Fprintf(p.out, "* %s is typing...\n", colorName(m.Name, p.color))
		}
	}
	var gone []room.Member
	for id, m := range p.members {
		if _, ok := next[id]; !ok && id != p.selfID {
			gone = append(gone, m)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].Name < gone[j].Name })
	for _, m := range gone {
		fmt.Fprintf(p.out, "* %s left\n", colorName(m.Name, p.color))
	}
	p.members = next
}
