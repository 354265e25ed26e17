package scraper

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/geniass/supermarket-prices/pkg/product"
)

const (
	ansiReset = "\x1b[0m"
	ansiRowA  = "\x1b[37m"
	ansiRowB  = "\x1b[90m"
)

// RowFormatter prints dry-run products as a table, alternating row colours
// when writing to a terminal. Create one per table.
type RowFormatter struct {
	mu     sync.Mutex
	w      io.Writer
	colour bool
	alt    bool
}

func NewRowFormatter(w io.Writer) *RowFormatter {
	colour := false
	if f, ok := w.(*os.File); ok {
		colour = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &RowFormatter{w: w, colour: colour}
}

func (f *RowFormatter) Header() {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, "%-10s | %-50s | %-12s | %-7s | %s\n", "ID", "Name", "Size", "Price", "Unit Price")
	fmt.Fprintln(f.w, strings.Repeat("-", 100))
}

// Row is safe for concurrent use.
func (f *RowFormatter) Row(p product.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()

	unit := ""
	if p.UnitName != "" {
		unit = fmt.Sprintf("$%.2f/%s", p.UnitPrice, p.UnitName)
	}
	line := fmt.Sprintf("%-10s | %-50s | %-12s | $%6.2f | %s", p.ID, truncate(p.Name, 50), truncate(p.Size, 12), p.CurrentPrice, unit)

	if f.colour {
		c := ansiRowA
		if f.alt {
			c = ansiRowB
		}
		line = c + line + ansiReset
	}
	f.alt = !f.alt
	fmt.Fprintln(f.w, line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
