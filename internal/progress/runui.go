package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/velocols/colprofile/internal/events"
)

// stateStep maps a col state to its position on the per-col bar.
var stateStep = map[events.ColState]int64{
	events.StatePendingCacheCheck: 0,
	events.StateAwaitingQuota:     1,
	events.StateFetching:          2,
	events.StateSegmenting:        3,
	events.StateValidating:        4,
	events.StatePersisting:        5,
	events.StateDone:              6,
}

const pipelineSteps = 6

// RunUI renders a regeneration run from its event stream: one overall bar
// plus one bar per in-flight col. Without a terminal it prints one line per
// finished col instead.
type RunUI struct {
	progress   *mpb.Progress
	total      *mpb.Bar
	isTerminal bool
	out        io.Writer

	states sync.Map // colID -> events.ColState, read by bar decorators

	mu        sync.Mutex
	bars      map[string]*mpb.Bar // colID -> bar, in-flight cols only
	totalCols int
	finished  int
}

// NewRunUI creates a UI writing to out. Bars are only drawn when out is a terminal.
func NewRunUI(out io.Writer) *RunUI {
	isTerminal := false
	if f, ok := out.(*os.File); ok {
		isTerminal = term.IsTerminal(int(f.Fd()))
		if isTerminal {
			enableWindowsANSI(f)
		}
	}

	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(200*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &RunUI{
		progress:   p,
		isTerminal: isTerminal,
		out:        out,
		bars:       make(map[string]*mpb.Bar),
	}
}

// Consume renders events until ch is closed, then waits for the bars to settle.
func (u *RunUI) Consume(ch <-chan events.Event) {
	for ev := range ch {
		u.Handle(ev)
	}
	u.finish()
	u.progress.Wait()
}

// Handle renders one event.
func (u *RunUI) Handle(ev events.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch e := ev.(type) {
	case *events.RunStartedEvent:
		u.totalCols = e.TotalCols
		if u.isTerminal {
			u.total = u.progress.New(int64(e.TotalCols),
				mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
				mpb.PrependDecorators(
					decor.Name("Regenerating ", decor.WCSyncSpaceR),
					decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
				),
				mpb.AppendDecorators(
					decor.Percentage(decor.WCSyncSpace),
					decor.Name("  "),
					decor.Elapsed(decor.ET_STYLE_GO),
				),
			)
		} else {
			fmt.Fprintf(u.out, "Regenerating %d cols (run %s)\n", e.TotalCols, e.RunID)
		}

	case *events.ColStateEvent:
		u.states.Store(e.ColID, e.NewState)
		if e.NewState.Terminal() {
			u.complete(e.ColID, e.ColName, e.NewState, "")
			return
		}
		if bar := u.barFor(e.ColID, e.ColName); bar != nil {
			bar.SetCurrent(stateStep[e.NewState])
		}

	case *events.ColFailedEvent:
		msg := "failed"
		if e.Error != nil {
			msg = fmt.Sprintf("%s: %v", e.Kind, e.Error)
		} else if e.Kind != "" {
			msg = e.Kind
		}
		u.complete(e.ColID, e.ColName, events.StateFailed, msg)

	case *events.LogEvent:
		if e.Level < events.WarnLevel {
			return
		}
		line := e.Message
		if e.ColID != "" {
			line = e.ColID + ": " + line
		}
		if e.Error != nil {
			line += ": " + e.Error.Error()
		}
		fmt.Fprintf(u.writer(), "! %s\n", line)

	case *events.RunCompleteEvent:
		u.closeBars()
		fmt.Fprintf(u.writer(), "Run %s finished in %s: %d processed, %d errors, %d skipped, %d cache hits, %d API calls\n",
			e.RunID, e.Duration.Round(time.Millisecond), e.Processed, e.Errored, e.Skipped, e.CacheHits, e.APICalls)
	}
}

// barFor returns the col's bar, creating it on first sight. Caller holds u.mu.
func (u *RunUI) barFor(colID, name string) *mpb.Bar {
	if !u.isTerminal {
		return nil
	}
	if bar, ok := u.bars[colID]; ok {
		return bar
	}
	bar := u.progress.New(pipelineSteps,
		mpb.BarStyle().Lbound("  ").Filler("=").Tip(">").Padding(" ").Rbound(""),
		mpb.PrependDecorators(
			decor.Name(truncateName(name, 28), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				if state, ok := u.states.Load(colID); ok {
					return string(state.(events.ColState))
				}
				return ""
			}, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	u.bars[colID] = bar
	return bar
}

// complete settles a col's bar and prints its outcome. Caller holds u.mu.
func (u *RunUI) complete(colID, name string, state events.ColState, detail string) {
	bar, hasBar := u.bars[colID]
	delete(u.bars, colID)

	// A failure is reported twice (state and failure event); count it once.
	if state == events.StateFailed && detail == "" {
		if hasBar {
			bar.Abort(true)
		}
		return
	}

	switch state {
	case events.StateDone:
		if hasBar {
			bar.SetTotal(-1, true)
		}
	default:
		if hasBar {
			bar.Abort(true)
		}
	}

	u.finished++
	if u.total != nil {
		u.total.Increment()
	}

	switch {
	case state == events.StateFailed:
		fmt.Fprintf(u.writer(), "✗ %s (%s)\n", name, detail)
	case state == events.StateSkipped:
		fmt.Fprintf(u.writer(), "- %s skipped\n", name)
	case !u.isTerminal:
		fmt.Fprintf(u.writer(), "✓ %s [%d/%d]\n", name, u.finished, u.totalCols)
	}
}

// closeBars completes every bar still open. Caller holds u.mu.
func (u *RunUI) closeBars() {
	for id, bar := range u.bars {
		bar.Abort(true)
		delete(u.bars, id)
	}
	if u.total != nil {
		u.total.SetTotal(-1, true)
		u.total = nil
	}
}

func (u *RunUI) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closeBars()
}

// writer prints above the bars when they are active.
func (u *RunUI) writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// Finished returns how many cols reached a terminal state.
func (u *RunUI) Finished() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// truncateName shortens a col name to max runes, marking the cut with an ellipsis.
func truncateName(name string, max int) string {
	r := []rune(name)
	if len(r) <= max {
		return name
	}
	return string(r[:max-1]) + "…"
}
