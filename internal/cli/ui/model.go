// Package ui implements the Bubble Tea terminal frontend for batch runs.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stackvity/mark-batch/internal/cli/hooks"
	"github.com/stackvity/mark-batch/pkg/batch"
)

const listHeightMargin = 4

// Model represents the state of the TUI application: the scrollable task
// list, the spinner, and the aggregated run summary shown in the footer.
type Model struct {
	list        list.Model
	spinner     spinner.Model
	width       int
	height      int
	initialized bool

	// taskItems and itemMap are updated from hook messages; listLock guards
	// them because debounced list rebuilds read them from a command closure.
	taskItems []taskItem
	itemMap   map[string]int
	listLock  sync.Mutex

	summary      Summary
	phaseMessage string
	result       *batch.Result
	quitting     bool
	version      string

	// cancelRun aborts the engine when the user quits mid-run.
	cancelRun func()

	debounceTimer  *time.Timer
	debounceCancel chan struct{}
}

// taskItem is a single source file in the task list.
type taskItem struct {
	path     string
	phase    batch.Phase
	status   batch.Status
	message  string
	duration time.Duration
}

// Summary holds the aggregated statistics displayed in the TUI footer.
type Summary struct {
	Discovered int
	Succeeded  int
	Skipped    int
	Failed     int
	Cancelled  int
	StartTime  time.Time
}

// NewModel creates the initial model. cancelRun may be nil; when set it is
// invoked once if the user quits before the run completes.
func NewModel(version string, cancelRun func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorSelectedFg).
		Background(ColorSelectedBg).
		Bold(true).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSelectedDescFg).
		Background(ColorSelectedBg).
		Padding(0, 0, 0, 1)
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.
		Foreground(ColorNormalFg).Padding(0, 0, 0, 1)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.
		Foreground(ColorNormalDescFg).Padding(0, 0, 0, 1)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return &Model{
		list:         l,
		spinner:      s,
		summary:      Summary{StartTime: time.Now()},
		phaseMessage: "Initializing...",
		taskItems:    make([]taskItem, 0, 256),
		itemMap:      make(map[string]int),
		version:      version,
		cancelRun:    cancelRun,
	}
}

// Result returns the final run result once RunCompleteMsg arrived, nil
// before.
func (m *Model) Result() *batch.Result { return m.result }

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var listCmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		listHeight := m.height - listHeightMargin
		if listHeight < 1 {
			listHeight = 1
		}
		m.list.SetSize(m.width, listHeight)
		m.initialized = true

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.result == nil && m.cancelRun != nil {
				m.cancelRun()
			}
			return m, tea.Quit
		}
		m.list, listCmd = m.list.Update(msg)
		cmds = append(cmds, listCmd)

	case spinner.TickMsg:
		if m.quitting {
			return m, nil
		}
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case hooks.FileDiscoveredMsg:
		m.listLock.Lock()
		if _, exists := m.itemMap[msg.Path]; !exists {
			m.taskItems = append(m.taskItems, taskItem{path: msg.Path, status: batch.StatusPending})
			m.itemMap[msg.Path] = len(m.taskItems) - 1
			m.summary.Discovered++
			cmds = append(cmds, m.debounceListUpdate())
		}
		m.listLock.Unlock()
		if !m.quitting && (m.phaseMessage == "" || m.phaseMessage == "Initializing...") {
			m.phaseMessage = "Discovering..."
		}

	case hooks.TaskProgressMsg:
		m.listLock.Lock()
		idx, ok := m.itemMap[msg.Event.Path]
		if !ok {
			m.taskItems = append(m.taskItems, taskItem{path: msg.Event.Path})
			idx = len(m.taskItems) - 1
			m.itemMap[msg.Event.Path] = idx
			m.summary.Discovered++
		}
		item := &m.taskItems[idx]
		if item.status == "" || item.status == batch.StatusPending {
			item.status = batch.StatusRunning
		}
		item.phase = msg.Event.Phase
		cmds = append(cmds, m.debounceListUpdate())
		m.listLock.Unlock()
		if !m.quitting && m.phaseMessage != "Converting..." {
			m.phaseMessage = "Converting..."
		}

	case hooks.TaskCompletedMsg:
		m.listLock.Lock()
		idx, ok := m.itemMap[msg.Event.Path]
		if !ok {
			m.taskItems = append(m.taskItems, taskItem{path: msg.Event.Path})
			idx = len(m.taskItems) - 1
			m.itemMap[msg.Event.Path] = idx
			m.summary.Discovered++
		}
		item := &m.taskItems[idx]
		if !item.status.Terminal() {
			m.incrementSummaryCount(msg.Event.Status)
		}
		item.status = msg.Event.Status
		item.message = msg.Event.Error
		item.duration = msg.Event.Duration
		cmds = append(cmds, m.debounceListUpdate())
		m.listLock.Unlock()

	case hooks.RunCompleteMsg:
		result := msg.Result
		m.result = &result
		m.phaseMessage = "Complete"
		m.summary.Succeeded = int(result.Summary.Stats.Succeeded)
		m.summary.Skipped = int(result.Summary.Stats.Skipped)
		m.summary.Failed = int(result.Summary.Stats.Failed)
		m.summary.Cancelled = int(result.Summary.Stats.Cancelled)
		m.summary.Discovered = result.Summary.TotalDiscovered
		// The run is over; hand control back so the CLI can print the final
		// summary below the alternate screen.
		m.quitting = true
		cmds = append(cmds, tea.Quit)

	case UpdateListMsg:
		m.listLock.Lock()
		items := make([]list.Item, len(m.taskItems))
		for i, item := range m.taskItems {
			items[i] = item
		}
		m.listLock.Unlock()
		cmds = append(cmds, m.list.SetItems(items))
	}

	if listCmd != nil {
		cmds = append(cmds, listCmd)
	}
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.initialized {
		return "Initializing..."
	}

	headerLeft := fmt.Sprintf("mark-batch v%s", m.version)
	headerRight := m.phaseMessage
	if m.phaseMessage != "Complete" && m.phaseMessage != "Initializing..." {
		headerRight = m.spinner.View() + " " + m.phaseMessage
	}
	headerCenter := ""
	headerWidth := m.width - lipgloss.Width(headerLeft) - lipgloss.Width(headerRight)
	if headerWidth > 0 {
		headerCenter = lipgloss.PlaceHorizontal(headerWidth, lipgloss.Center, " ")
	}
	header := HeaderStyle.Width(m.width).Render(lipgloss.JoinHorizontal(lipgloss.Top, headerLeft, headerCenter, headerRight))

	elapsed := time.Since(m.summary.StartTime).Round(time.Millisecond)
	footerLeft := fmt.Sprintf(
		"Converted: %d | Skipped: %d | Failed: %d | Discovered: %d | Elapsed: %s",
		m.summary.Succeeded,
		m.summary.Skipped,
		m.summary.Failed,
		m.summary.Discovered,
		elapsed,
	)
	footerRight := "q: quit"
	footerCenter := ""
	footerWidth := m.width - lipgloss.Width(footerLeft) - lipgloss.Width(footerRight)
	if footerWidth > 0 {
		footerCenter = lipgloss.PlaceHorizontal(footerWidth, lipgloss.Center, " ")
	}
	footer := FooterStyle.Width(m.width).Render(lipgloss.JoinHorizontal(lipgloss.Bottom, footerLeft, footerCenter, footerRight))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.list.View(),
		footer,
	)
}

// incrementSummaryCount folds a new terminal status into the footer counts.
// Must be called with listLock held.
func (m *Model) incrementSummaryCount(status batch.Status) {
	switch status {
	case batch.StatusSucceeded:
		m.summary.Succeeded++
	case batch.StatusSkipped:
		m.summary.Skipped++
	case batch.StatusFailed:
		m.summary.Failed++
	case batch.StatusCancelled:
		m.summary.Cancelled++
	}
}

// --- List Item Interface ---

// FilterValue implements list.Item.
func (i taskItem) FilterValue() string { return i.path }

// Title implements list.Item.
func (i taskItem) Title() string { return i.path }

// Description implements list.Item.
func (i taskItem) Description() string {
	var statusStyle lipgloss.Style
	statusIcon := " "
	switch i.status {
	case batch.StatusSucceeded:
		statusStyle = StatusStyleSucceeded
		statusIcon = "✓"
	case batch.StatusFailed:
		statusStyle = StatusStyleFailed
		statusIcon = "✗"
	case batch.StatusSkipped:
		statusStyle = StatusStyleSkipped
		statusIcon = "S"
	case batch.StatusCancelled:
		statusStyle = StatusStyleCancelled
		statusIcon = "–"
	case batch.StatusRunning:
		statusStyle = StatusStyleRunning
		statusIcon = "…"
	default:
		statusStyle = StatusStylePending
	}

	statusStr := statusStyle.Render(fmt.Sprintf("[%s]", statusIcon))
	details := ""
	switch {
	case i.status == batch.StatusFailed:
		details = firstLine(i.message)
	case i.status == batch.StatusRunning:
		details = i.phase.String()
	case i.status == batch.StatusSucceeded && i.duration > 0:
		details = formatDuration(i.duration)
	}
	return fmt.Sprintf("%s %s", statusStr, details)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// --- Update Debouncing ---

// UpdateListMsg signals that the list component should rebuild its items.
type UpdateListMsg struct{}

const listUpdateDebounceDuration = 50 * time.Millisecond

// debounceListUpdate coalesces rapid hook messages into at most ~20 list
// rebuilds per second. Must be called with listLock held.
func (m *Model) debounceListUpdate() tea.Cmd {
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		close(m.debounceCancel)
	}
	m.debounceTimer = time.NewTimer(listUpdateDebounceDuration)
	m.debounceCancel = make(chan struct{})
	// Capture both so a superseded command releases its goroutine instead of
	// blocking on whichever timer is current.
	timer, cancelled := m.debounceTimer, m.debounceCancel
	return func() tea.Msg {
		select {
		case <-timer.C:
			return UpdateListMsg{}
		case <-cancelled:
			return nil
		}
	}
}

// --- Styles ---

const (
	ColorHeaderFg = lipgloss.Color("252")
	ColorHeaderBg = lipgloss.Color("62")

	ColorFooterFg = lipgloss.Color("252")
	ColorFooterBg = lipgloss.Color("56")

	ColorNormalFg     = lipgloss.Color("250")
	ColorNormalDescFg = lipgloss.Color("244")

	ColorSelectedFg     = lipgloss.Color("255")
	ColorSelectedBg     = lipgloss.Color("56")
	ColorSelectedDescFg = lipgloss.Color("248")

	ColorStatusSucceeded = lipgloss.Color("40")
	ColorStatusFailed    = lipgloss.Color("196")
	ColorStatusSkipped   = lipgloss.Color("214")
	ColorStatusCancelled = lipgloss.Color("244")
	ColorStatusPending   = lipgloss.Color("244")
	ColorStatusRunning   = lipgloss.Color("205")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHeaderFg).
			Background(ColorHeaderBg).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorFooterFg).
			Background(ColorFooterBg).
			Padding(0, 1)

	StatusStyleSucceeded = lipgloss.NewStyle().Foreground(ColorStatusSucceeded)
	StatusStyleFailed    = lipgloss.NewStyle().Foreground(ColorStatusFailed)
	StatusStyleSkipped   = lipgloss.NewStyle().Foreground(ColorStatusSkipped)
	StatusStyleCancelled = lipgloss.NewStyle().Foreground(ColorStatusCancelled)
	StatusStylePending   = lipgloss.NewStyle().Foreground(ColorStatusPending)
	StatusStyleRunning   = lipgloss.NewStyle().Foreground(ColorStatusRunning)
)
