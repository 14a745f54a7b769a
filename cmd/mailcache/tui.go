package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	lipgloss "github.com/charmbracelet/lipgloss"

	"github.com/pepperpark/mailcache/internal/syncer"
)

type folderProgress struct {
	total int
	done  int
	state syncer.EventType
	err   error
}

type model struct {
	ctx      context.Context
	cancel   context.CancelFunc
	worker   *syncer.Syncer
	req      syncer.Request
	events   <-chan syncer.Event
	order    []string
	prog     map[string]folderProgress
	totalAll int
	doneAll  int
	spinner  spinner.Model
	bar      progress.Model
	report   *syncer.Report
	err      error
	finished bool
	started  time.Time
	// Smoothed ETA
	emaRate  float64 // msgs/sec (EMA)
	lastDone int
	lastAt   time.Time
}

type tickMsg time.Time

type doneMsg struct {
	report *syncer.Report
	err    error
}

func newModel(ctx context.Context, worker *syncer.Syncer, req syncer.Request, events <-chan syncer.Event) *model {
	cctx, cancel := context.WithCancel(ctx)
	s := spinner.New()
	s.Spinner = spinner.Line
	bar := progress.New(progress.WithDefaultGradient())
	now := time.Now()
	return &model{
		ctx: cctx, cancel: cancel, worker: worker, req: req, events: events,
		prog: map[string]folderProgress{}, spinner: s, bar: bar, started: now, lastAt: now,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.startSync())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) startSync() tea.Cmd {
	// Kick off sync in background
	return func() tea.Msg {
		rep, err := m.worker.Run(m.ctx, m.req)
		return doneMsg{report: rep, err: err}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.cancel()
			return m, nil
		}
	case doneMsg:
		m.drain()
		m.report, m.err = msg.report, msg.err
		m.finished = true
		if m.err == nil && len(m.report.Failed()) == 0 {
			m.doneAll = m.totalAll
		}
		return m, tea.Quit
	case tickMsg:
		m.updateEMARate()
		m.drain()
		return m, tick()
	}
	m.drain()
	var cmd tea.Cmd
	if _, ok := msg.(spinner.TickMsg); ok {
		m.spinner, cmd = m.spinner.Update(msg)
	}
	return m, cmd
}

// drain applies every queued event without blocking.
func (m *model) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *model) apply(ev syncer.Event) {
	fp, seen := m.prog[ev.Folder]
	if !seen {
		m.order = append(m.order, ev.Folder)
	}
	fp.state = ev.Type
	switch ev.Type {
	case syncer.EventFolderProgress:
		fp.total, fp.done = ev.Total, ev.Done
	case syncer.EventFolderDone:
		fp.done = ev.Done
		if fp.total < fp.done {
			fp.total = fp.done
		}
	case syncer.EventFolderError:
		fp.err = ev.Err
	}
	m.prog[ev.Folder] = fp
	m.recomputeTotals()
}

func (m *model) recomputeTotals() {
	total, done := 0, 0
	for _, p := range m.prog {
		total += p.total
		done += p.done
	}
	m.totalAll, m.doneAll = total, done
}

func (m *model) View() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render("Mailcache")
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	var b strings.Builder
	b.WriteString(title + "  " + dim.Render(m.req.Mailbox) + "\n\nPress q to stop\n\n")
	pct := 0.0
	if m.totalAll > 0 {
		pct = float64(m.doneAll) / float64(m.totalAll)
	}
	fmt.Fprintf(&b, "%s Overall %d/%d   %s\n", m.spinner.View(), m.doneAll, m.totalAll, formatETA(m.totalAll, m.doneAll, m.emaRate, m.started))
	b.WriteString(m.bar.ViewAs(pct) + "\n\n")

	for _, name := range m.order {
		fp := m.prog[name]
		line := fmt.Sprintf("  %-30s %d/%d", name, fp.done, fp.total)
		switch fp.state {
		case syncer.EventFolderDone:
			b.WriteString(line + " " + dim.Render("done") + "\n")
		case syncer.EventFolderError:
			b.WriteString(red.Render(line+" error") + "\n")
		default:
			b.WriteString(line + "\n")
		}
	}

	if m.finished && m.err != nil {
		b.WriteString("\n" + red.Render("Error: "+m.err.Error()) + "\n")
	} else if m.finished && m.totalAll == 0 {
		// Helpful hint for the common 0/0 case with stored cursors
		hint := "No new messages. Use --ignore-state to read every message again."
		b.WriteString("\n" + dim.Render(hint) + "\n")
	}
	return b.String()
}

// formatETA estimates the remaining time from the smoothed rate, falling
// back to the average since start.
func formatETA(total, done int, emaRate float64, started time.Time) string {
	if total == 0 {
		return "ETA --"
	}
	remaining := total - done
	if remaining <= 0 {
		return "ETA 0s"
	}
	rate := emaRate
	if rate <= 0.01 {
		elapsed := time.Since(started)
		if elapsed <= 0 {
			return "ETA --"
		}
		rate = float64(done) / elapsed.Seconds()
	}
	if rate <= 0.01 { // too low/unstable
		return "ETA --"
	}
	secs := float64(remaining) / rate
	if secs < 1 {
		return "ETA <1s"
	}
	d := time.Duration(secs) * time.Second
	// cap very large ETAs to something readable
	if d > 99*time.Hour {
		return "ETA >99h"
	}
	if d >= time.Hour {
		h := int(d / time.Hour)
		mrem := int((d - time.Duration(h)*time.Hour) / time.Minute)
		return fmt.Sprintf("ETA %dh%dm", h, mrem)
	}
	if d >= time.Minute {
		return fmt.Sprintf("ETA %dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("ETA %ds", int(d.Seconds()))
}

// updateEMARate updates the EMA of processing rate based on deltas since last tick.
func (m *model) updateEMARate() {
	now := time.Now()
	dt := now.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	inst := float64(m.doneAll-m.lastDone) / dt // msgs/sec
	// EMA with half-life ~3s -> alpha depends on dt
	const halfLife = 3.0
	alpha := 1 - math.Exp(-math.Ln2*dt/halfLife)
	if m.emaRate == 0 {
		m.emaRate = inst
	} else {
		m.emaRate = alpha*inst + (1-alpha)*m.emaRate
	}
	m.lastDone = m.doneAll
	m.lastAt = now
}

// runTUI runs the sync behind the progress UI and returns its report.
func runTUI(ctx context.Context, worker *syncer.Syncer, req syncer.Request, events <-chan syncer.Event) (*syncer.Report, error) {
	m := newModel(ctx, worker, req, events)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		// Fallback to non-TUI execution
		fmt.Println("TUI failed:", err)
		return worker.Run(ctx, req)
	}
	return m.report, m.err
}
