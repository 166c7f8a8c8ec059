package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	jsoniter "github.com/json-iterator/go"
	"github.com/raphaelgruber/scenariogen/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recentLines is how many finished units the progress view lists.
const recentLines = 5

// errDetached is returned when the user leaves the progress view early.
var errDetached = errors.New("detached from run")

// eventSource streams the events of one run to onEvent until the run ends,
// ctx is done, or onEvent returns an error.
type eventSource func(ctx context.Context, onEvent func(models.ProgressEvent) error) error

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries one progress event into the UI.
type eventMsg models.ProgressEvent

// streamEndMsg reports that the event source returned.
type streamEndMsg struct {
	err error
}

// progressModel is the bubbletea model for a generation run.
type progressModel struct {
	runID    string
	total    int
	current  int
	failed   int
	elapsed  time.Duration
	eta      time.Duration
	recent   []string
	final    *models.ProgressEvent
	hint     string
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a model for run. hint is shown below the bar and
// tells the user what Ctrl+C does.
func newProgressModel(run models.Run, hint string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		runID:    run.ID,
		total:    run.Total,
		hint:     hint,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		ev := models.ProgressEvent(msg)
		m.apply(ev)
		if ev.Type.Terminal() {
			m.final = &ev
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case streamEndMsg:
		if m.done {
			return m, nil
		}
		m.done = true
		m.err = msg.err
		if m.err == nil {
			m.err = errors.New("event stream ended before the run finished")
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds ev into the counters and the recent list.
func (m *progressModel) apply(ev models.ProgressEvent) {
	if ev.Total > 0 {
		m.total = ev.Total
	}
	if ev.Current > m.current {
		m.current = ev.Current
	}
	m.elapsed = time.Duration(ev.ElapsedMs) * time.Millisecond
	m.eta = time.Duration(ev.EstimatedRemainingMs) * time.Millisecond

	var line string
	switch ev.Type {
	case models.EventScenarioComplete:
		line = m.theme.completedStyle().Render("✓") + fmt.Sprintf(" %s/%s #%d %s", ev.Domain, ev.Tier, ev.Repetition, ev.TaskTitle)
	case models.EventScenarioFailed:
		m.failed++
		line = m.theme.errorStyle().Render("✗") + fmt.Sprintf(" %s/%s #%d after %d attempts: %s", ev.Domain, ev.Tier, ev.Repetition, ev.Attempts, ev.Error)
	default:
		return
	}
	m.recent = append(m.recent, line)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.current) / float64(m.total)
	}

	var b strings.Builder
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.runID))
	fmt.Fprintf(&b, "%s %s %d/%d scenarios", status, m.progress.ViewAs(pct), m.current, m.total)
	if m.failed > 0 {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.failed)))
	}
	if m.eta > 0 {
		fmt.Fprintf(&b, " ~%s left", m.eta.Round(time.Second))
	}
	b.WriteString("\n")
	for _, line := range m.recent {
		b.WriteString("  " + line + "\n")
	}
	if m.hint != "" {
		b.WriteString(m.theme.hintStyle().Render(m.hint) + "\n")
	}
	return b.String()
}

func (m progressModel) finalView() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	if m.final == nil {
		return ""
	}
	if m.final.Type == models.EventError {
		msg := fmt.Sprintf("\n✗ Run %s: %s (%s), %d scenarios stored\n",
			m.final.Status, m.final.Message, m.final.Error, m.final.ScenariosGenerated)
		return m.theme.errorStyle().Render(msg)
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
	fmt.Fprintf(&b, "  Run:        %s\n", m.runID)
	fmt.Fprintf(&b, "  Succeeded:  %d\n", m.final.Succeeded)
	if m.final.Failed > 0 {
		fmt.Fprintf(&b, "  Failed:     %d\n", m.final.Failed)
	}
	fmt.Fprintf(&b, "  Duration:   %s\n", m.elapsed.Round(time.Millisecond))
	return b.String()
}

// runProgressUI follows src in the interactive progress view. It returns
// the terminal event, errDetached when the user quit early, or the error
// that ended the stream.
func runProgressUI(ctx context.Context, run models.Run, hint string, src eventSource) (*models.ProgressEvent, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(run, hint), tea.WithContext(ctx))
	go func() {
		err := src(ctx, func(ev models.ProgressEvent) error {
			p.Send(eventMsg(ev))
			return nil
		})
		p.Send(streamEndMsg{err: err})
	}()

	finalModel, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}

	m, ok := finalModel.(progressModel)
	if !ok {
		return nil, errors.New("progress UI returned unexpected model")
	}
	if m.quitting || (m.final == nil && ctx.Err() != nil) {
		return nil, errDetached
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.final, nil
}

// streamNDJSON writes every event of src to w as one JSON document per line.
// It returns the terminal event.
func streamNDJSON(ctx context.Context, w io.Writer, src eventSource) (*models.ProgressEvent, error) {
	enc := json.NewEncoder(w)
	var final *models.ProgressEvent
	err := src(ctx, func(ev models.ProgressEvent) error {
		if ev.Type.Terminal() {
			final = &ev
		}
		return enc.Encode(ev)
	})
	if final == nil && ctx.Err() != nil {
		return nil, errDetached
	}
	if err != nil {
		return final, err
	}
	if final == nil {
		return nil, errors.New("event stream ended before the run finished")
	}
	return final, nil
}

// runResult turns a terminal event into the command's exit error.
func runResult(final *models.ProgressEvent) error {
	if final == nil || final.Type != models.EventError {
		return nil
	}
	return fmt.Errorf("run %s %s: %s (%s)", final.RunID, final.Status, final.Message, final.Error)
}
