// Package tui is the terminal front end of a single run.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"douyindl/internal/entity"
	"douyindl/internal/extractor"
	"douyindl/internal/orchestrator"
	"douyindl/internal/profile"
	"douyindl/pkg/calc"
)

// recentLimit is how many finished items stay on screen.
const recentLimit = 6

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Runner starts and cancels runs.
type Runner interface {
	Start(ctx context.Context, urls []string, opts entity.RunOptions, cb orchestrator.Callbacks) (string, error)
	Cancel(ctx context.Context) error
}

// ProfileEnumerator expands a profile link into post URLs.
type ProfileEnumerator interface {
	Enumerate(ctx context.Context, profileURL string, onProgress profile.ProgressFunc) ([]string, error)
}

type phase int

const (
	phaseEnumerating phase = iota
	phaseRunning
	phaseDone
)

type (
	enumProgressMsg struct {
		found int
		msg   string
	}
	expandedMsg struct {
		urls []string
		err  error
	}
	startedMsg struct {
		id  string
		err error
	}
	progressMsg struct {
		fraction         float64
		completed, total int
	}
	itemMsg     entity.ItemResult
	completeMsg entity.RunSnapshot
	cancelMsg   struct{ err error }
)

// bridge lets worker callbacks reach the program created after the model.
type bridge struct {
	send func(tea.Msg)
}

func (b *bridge) Send(msg tea.Msg) {
	if b.send != nil {
		b.send(msg)
	}
}

type model struct {
	ctx      context.Context //nolint:containedctx // commands outlive Update
	log      *slog.Logger
	runner   Runner
	profiles ProfileEnumerator
	opts     entity.RunOptions
	inputs   []string
	bridge   *bridge

	stopEnum context.CancelFunc

	phase      phase
	status     string
	runID      string
	found      int
	fraction   float64
	completed  int
	total      int
	started    time.Time
	cancelling bool
	recent     []entity.ItemResult
	final      *entity.RunSnapshot
	err        error

	spin spinner.Model
	bar  progress.Model
}

func newModel(
	ctx context.Context, log *slog.Logger, runner Runner, profiles ProfileEnumerator,
	inputs []string, opts entity.RunOptions,
) model {
	ctx, stop := context.WithCancel(ctx)

	return model{
		ctx:      ctx,
		log:      log,
		runner:   runner,
		profiles: profiles,
		opts:     opts,
		inputs:   inputs,
		bridge:   &bridge{},
		stopEnum: stop,
		phase:    phaseEnumerating,
		status:   "preparing",
		spin:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.expandCmd())
}

// isProfile reports whether raw names a user page rather than a post.
func isProfile(raw string) bool {
	_, ok := extractor.UserID(raw)

	return ok
}

// expandCmd replaces profile links with their posts, keeping input order.
func (m model) expandCmd() tea.Cmd {
	return func() tea.Msg {
		var out []string

		for _, raw := range m.inputs {
			if !isProfile(raw) || m.profiles == nil {
				out = append(out, raw)

				continue
			}

			base := len(out)

			found, err := m.profiles.Enumerate(m.ctx, raw, func(n, _ int, msg string) {
				m.bridge.Send(enumProgressMsg{found: base + n, msg: msg})
			})
			if err != nil {
				if m.ctx.Err() != nil {
					return expandedMsg{err: err}
				}

				m.log.WarnContext(m.ctx, "profile enumeration failed", slog.String("url", raw), slog.Any("error", err))

				continue
			}

			out = append(out, found...)
		}

		return expandedMsg{urls: out}
	}
}

func (m model) startCmd(urls []string) tea.Cmd {
	send := m.bridge.Send

	return func() tea.Msg {
		id, err := m.runner.Start(m.ctx, urls, m.opts, orchestrator.Callbacks{
			OnProgress: func(fraction float64, completed, total int) {
				send(progressMsg{fraction: fraction, completed: completed, total: total})
			},
			OnItemResult: func(r entity.ItemResult) { send(itemMsg(r)) },
			OnComplete:   func(run entity.RunSnapshot) { send(completeMsg(run)) },
		})

		return startedMsg{id: id, err: err}
	}
}

func (m model) cancelCmd() tea.Cmd {
	return func() tea.Msg {
		return cancelMsg{err: m.runner.Cancel(m.ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKey(msg)
	case enumProgressMsg:
		m.found, m.status = msg.found, msg.msg

		return m, nil
	case expandedMsg:
		if msg.err != nil || len(msg.urls) == 0 {
			m.phase, m.err = phaseDone, msg.err
			if m.err == nil {
				m.status = "nothing to download"
			}

			return m, tea.Quit
		}

		m.phase, m.total, m.started = phaseRunning, len(msg.urls), time.Now()
		m.status = fmt.Sprintf("downloading %d videos", len(msg.urls))

		return m, m.startCmd(msg.urls)
	case startedMsg:
		if msg.err != nil {
			m.phase, m.err = phaseDone, msg.err

			return m, tea.Quit
		}

		m.runID = msg.id

		return m, nil
	case progressMsg:
		m.fraction, m.completed, m.total = msg.fraction, msg.completed, msg.total

		return m, nil
	case itemMsg:
		m.recent = append(m.recent, entity.ItemResult(msg))
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}

		return m, nil
	case completeMsg:
		run := entity.RunSnapshot(msg)
		m.phase, m.final, m.fraction = phaseDone, &run, 1
		m.stopEnum()

		return m, tea.Quit
	case cancelMsg:
		if msg.err != nil {
			m.status = "cancel: " + msg.err.Error()
		}

		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc", "c", "q":
	default:
		return m, nil
	}

	switch m.phase {
	case phaseEnumerating:
		m.stopEnum()
		m.status = "stopping"

		return m, nil
	case phaseRunning:
		if m.cancelling {
			return m, nil
		}

		m.cancelling = true
		m.status = "cancelling, waiting for in-flight downloads"

		return m, m.cancelCmd()
	default:
		return m, tea.Quit
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("douyindl"))

	if m.runID != "" {
		b.WriteString(mutedStyle.Render("  run " + m.runID))
	}

	b.WriteString("\n\n")

	switch m.phase {
	case phaseEnumerating:
		fmt.Fprintf(&b, "%s %s\n", m.spin.View(), m.status)

		if m.found > 0 {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("%d videos found", m.found)) + "\n")
		}
	case phaseRunning:
		fmt.Fprintf(&b, "%s %s\n", m.spin.View(), m.status)
		b.WriteString(m.bar.ViewAs(m.fraction) + "\n")

		line := fmt.Sprintf("%d/%d", m.completed, m.total)
		if eta := calc.ETA(int64(m.completed), int64(m.total), m.started); eta > 0 {
			line += "  eta " + eta.Round(time.Second).String()
		}

		b.WriteString(mutedStyle.Render(line) + "\n")
	case phaseDone:
		b.WriteString(m.doneView() + "\n")
	}

	if len(m.recent) > 0 {
		lines := make([]string, 0, len(m.recent))
		for _, r := range m.recent {
			lines = append(lines, resultLine(r))
		}

		b.WriteString(panelStyle.Render(strings.Join(lines, "\n")) + "\n")
	}

	if m.phase != phaseDone {
		b.WriteString(mutedStyle.Render("c cancel") + "\n")
	}

	return b.String()
}

func (m model) doneView() string {
	switch {
	case m.err != nil:
		return errorStyle.Render("error: " + m.err.Error())
	case m.final == nil:
		return mutedStyle.Render(m.status)
	}

	return Summary(*m.final)
}

func resultLine(r entity.ItemResult) string {
	name := r.ResourceID
	if name == "" {
		name = r.SourceURL
	}

	switch {
	case r.Success:
		return okStyle.Render("ok ") + name + mutedStyle.Render(fmt.Sprintf(" %.1fs", r.ElapsedSeconds))
	case r.FilteredByOrientation:
		return warnStyle.Render("-- ") + name + mutedStyle.Render(" filtered "+string(r.Orientation))
	default:
		return errorStyle.Render("x  ") + name + mutedStyle.Render(" "+r.Error)
	}
}

// Summary renders the totals of a finished run.
func Summary(run entity.RunSnapshot) string {
	s := run.Summary

	title := okStyle.Render("done")
	if run.CancelRequested {
		title = warnStyle.Render("cancelled")
	}

	return fmt.Sprintf("%s  %d ok  %d failed  %d filtered  %d timeouts  %d skipped  %d retries  %.1f MB in %.0fs",
		title, s.Succeeded, s.Failed, s.Filtered, s.Timeouts, s.Skipped, s.Retries,
		float64(s.Bytes)/(1<<20), s.Elapsed)
}

// Run drives inputs through runner until the run completes or the user leaves.
// Profile links among inputs are expanded first. The final snapshot is nil if no run finished.
func Run(
	ctx context.Context, log *slog.Logger, runner Runner, profiles ProfileEnumerator,
	inputs []string, opts entity.RunOptions, in io.Reader, out io.Writer,
) (*entity.RunSnapshot, error) {
	m := newModel(ctx, log.With(slog.String("package", "tui")), runner, profiles, inputs, opts)

	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out))
	m.bridge.send = p.Send

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("run tui: %w", err)
	}

	fm, _ := final.(model)

	return fm.final, fm.err
}
