package utils

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// Progress draws one bar on stderr counting finished containers. It is a no-op
// when disabled or when stderr is not a terminal.
type Progress struct {
	container *mpb.Progress
	bar       *mpb.Bar
	// last container reported, read by the decorator from mpb's goroutine
	current atomic.Pointer[string]
}

var descLength = 20

// NewProgress creates a bar for total containers
func NewProgress(total int, enabled bool) *Progress {
	p := &Progress{}
	if !enabled || !isTerminal() {
		return p
	}

	fmt.Fprintln(os.Stderr)

	p.container = mpb.New(
		mpb.WithOutput(os.Stderr),
		mpb.WithWidth(64),
		mpb.WithRefreshRate(100*time.Millisecond),
	)
	p.bar = p.container.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				name := p.current.Load()
				if name == nil {
					return ""
				}
				if len(*name) > descLength {
					return (*name)[:descLength-2] + ".."
				}
				return *name
			}, decor.WC{W: descLength, C: decor.DindentRight}),
			decor.Name("  "),
			decor.CountersNoUnit("%d/%d", decor.WC{C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_MMSS),
		),
	)
	return p
}

// Update moves the bar to current and shows the container just handled.
// Safe for concurrent use.
func (p *Progress) Update(current int, container string) {
	if p.bar == nil {
		return
	}
	p.current.Store(&container)
	p.bar.SetCurrent(int64(current))
}

// Finish waits for the bar to render its final state. A run that stopped
// before every container was reported aborts the bar instead.
func (p *Progress) Finish() {
	if p.container == nil {
		return
	}
	if !p.bar.Completed() {
		p.bar.Abort(false)
	}
	p.container.Wait()
	fmt.Fprintln(os.Stderr)
}

// isTerminal checks if stderr is a terminal (TTY)
func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
