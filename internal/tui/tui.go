package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"ballotwatch/internal/coordinator"
	"ballotwatch/internal/election"
	"ballotwatch/internal/gate"
	"ballotwatch/internal/txn"
)

// notificationLines is how many recent notifications the footer shows.
const notificationLines = 6

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncate cuts s to width display cells, marking the cut with "...".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncate(text, width-2), width-2) + "│"
}

// Snapshot is everything the dashboard renders.
type Snapshot struct {
	View          coordinator.View
	Notifications []election.Notification
	At            time.Time
}

// UpdateMsg is sent when the session changed.
type UpdateMsg struct {
	Snapshot Snapshot
}

// resultMsg carries the outcome of a submitted command.
type resultMsg struct {
	text string
	err  error
}

// SubmitFunc hands a parsed request to the session.
type SubmitFunc func(gate.Request) error

// Model holds the TUI state
type Model struct {
	snap    Snapshot
	submit  SubmitFunc
	width   int
	height  int
	editing bool
	input   []rune
	status  string
	failed  bool
}

// NewModel creates a new TUI model
func NewModel(submit SubmitFunc) Model {
	return Model{submit: submit}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.snap = msg.Snapshot
		return m, nil

	case resultMsg:
		m.failed = msg.err != nil
		if msg.err != nil {
			m.status = msg.err.Error()
		} else {
			m.status = msg.text
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case ":", "i":
			m.editing = true
			m.input = nil
			return m, nil
		}
	}

	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.editing = false
		m.input = nil
		return m, nil
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	case tea.KeyEnter:
		line := string(m.input)
		m.editing = false
		m.input = nil
		req, err := ParseCommand(line)
		if err != nil {
			m.status, m.failed = err.Error(), true
			return m, nil
		}
		m.status, m.failed = fmt.Sprintf("%s submitted", req.Kind.Title()), false
		return m, m.run(req)
	}
	return m, nil
}

func (m Model) run(req gate.Request) tea.Cmd {
	submit := m.submit
	return func() tea.Msg {
		if submit == nil {
			return resultMsg{err: errors.New("read-only dashboard")}
		}
		if err := submit(req); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{text: fmt.Sprintf("%s sent, awaiting confirmation", req.Kind.Title())}
	}
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	now := m.snap.At
	if now.IsZero() {
		now = time.Now()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(now),
		m.renderParties(),
		m.renderOperations(),
		m.renderNotifications(),
		m.renderFooter(),
	)
}

// renderHeader renders the top header section: viewer, session and
// subscription columns.
func (m Model) renderHeader(now time.Time) string {
	v := m.snap.View
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	viewer := "disconnected"
	if v.Viewer.HasAddress() {
		viewer = v.Viewer.Address
	}
	leftLines := []string{
		"viewer: " + viewer,
		"role: " + v.Role.String(),
		"allowed: " + allowedList(v.Allowed),
	}
	middleLines := sessionLines(v.Session, now)

	var rightLines []string
	for _, k := range election.AllEventKinds {
		mark := "✗"
		if v.Subscribed[k] {
			mark = "✓"
		}
		rightLines = append(rightLines, fmt.Sprintf("%s %s", mark, k))
	}

	maxLines := len(leftLines)
	if len(middleLines) > maxLines {
		maxLines = len(middleLines)
	}
	if len(rightLines) > maxLines {
		maxLines = len(rightLines)
	}

	line := func(lines []string, i, width int) string {
		s := ""
		if i < len(lines) {
			s = lines[i]
		}
		return padToWidth(truncate(s, width-2), width-2)
	}
	var rows []string
	for i := 0; i < maxLines; i++ {
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │",
			line(leftLines, i, colWidth),
			line(middleLines, i, colWidth),
			line(rightLines, i, rightColWidth)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

func sessionLines(st election.SessionState, now time.Time) []string {
	id := "session: loading"
	if st.SessionKnown {
		id = fmt.Sprintf("session: #%d", st.SessionID)
	}
	active := "status: loading"
	if st.ActiveKnown {
		if st.Active {
			active = "status: voting open"
		} else {
			active = "status: no active session"
		}
	}
	lines := []string{id, active}
	if st.Active && st.EndTimeKnown {
		left := st.EndTime.Sub(now).Truncate(time.Second)
		if left > 0 {
			lines = append(lines, fmt.Sprintf("ends in: %s", left))
		} else {
			lines = append(lines, "ends in: ended, awaiting stop")
		}
	}
	if st.Active && st.HasVotedKnown {
		if st.ViewerHasVoted {
			lines = append(lines, "your vote: recorded")
		} else {
			lines = append(lines, "your vote: not cast")
		}
	}
	if len(st.Stale) > 0 {
		names := make([]string, len(st.Stale))
		for i, f := range st.Stale {
			names[i] = f.String()
		}
		lines = append(lines, "stale: "+strings.Join(names, ","))
	}
	return lines
}

func allowedList(allowed map[election.OperationKind]bool) string {
	var names []string
	for _, k := range election.AllOperations {
		if allowed[k] {
			names = append(names, commandName(k))
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, " ")
}

// partyCell is one entry of the parties table.
type partyCell struct {
	Party  string
	Votes  uint64
	Tally  bool
	Winner bool
}

// partyCells lists the active session's parties, or the last results when
// no session is active.
func partyCells(v coordinator.View) ([]partyCell, string) {
	if v.Session.Active {
		cells := make([]partyCell, len(v.Session.Parties))
		for i, p := range v.Session.Parties {
			cells[i] = partyCell{Party: p}
		}
		return cells, "ID, Party (vote <party>)"
	}
	r := v.Results
	if r.Empty() {
		return nil, ""
	}
	cells := make([]partyCell, 0, len(r.Tally))
	for _, t := range r.Tally {
		cells = append(cells, partyCell{Party: t.Party, Votes: t.Votes, Tally: true, Winner: t.Party == r.WinningParty})
	}
	if len(cells) == 0 {
		cells = append(cells, partyCell{Party: r.WinningParty, Winner: true})
	}
	legend := "ID, Votes, Winner, Party (last session results)"
	if r.Partial {
		legend += " (tally incomplete)"
	}
	return cells, legend
}

// renderParties renders the parties table in columns.
func (m Model) renderParties() string {
	cells, legend := partyCells(m.snap.View)
	if len(cells) == 0 {
		return formatInfoLine(" no parties to show", m.width)
	}

	cols := 4
	separatorWidth := runewidth.StringWidth("│")
	borderWidth := runewidth.StringWidth("│") * 2
	totalSeparatorsWidth := separatorWidth * (cols - 1)
	colWidth := (m.width - borderWidth - totalSeparatorsWidth) / cols
	if colWidth < 16 {
		colWidth = 16
	}
	totalRows := (len(cells) + cols - 1) / cols

	var lines []string
	for row := 0; row < totalRows; row++ {
		var rowCells []string
		for col := 0; col < cols; col++ {
			idx := row*cols + col
			if idx >= len(cells) {
				rowCells = append(rowCells, strings.Repeat(" ", colWidth))
				continue
			}
			c := cells[idx]
			prefix := fmt.Sprintf("%3d ", idx+1)
			if c.Tally {
				mark := "  "
				if c.Winner {
					mark = "🏆"
				}
				prefix = fmt.Sprintf("%3d %6d %s ", idx+1, c.Votes, mark)
			}
			text := prefix + truncate(c.Party, colWidth-runewidth.StringWidth(prefix))
			rowCells = append(rowCells, padToWidth(text, colWidth))
		}
		lines = append(lines, formatInfoLine(strings.Join(rowCells, "│"), m.width))
	}
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" + formatInfoLine(legend, m.width)
}

// renderOperations shows every non-idle transaction record.
func (m Model) renderOperations() string {
	var lines []string
	lines = append(lines, separatorLine(m.width))
	for _, r := range m.snap.View.Records {
		if r.State == txn.Idle {
			continue
		}
		text := fmt.Sprintf(" %-14s %-21s %s", r.Kind.Title(), r.State, shortHandle(string(r.Handle)))
		if r.Err != nil {
			text += "  " + r.Err.Error()
		}
		lines = append(lines, formatInfoLine(text, m.width))
	}
	if len(lines) == 1 {
		lines = append(lines, dimStyle.Render(formatInfoLine(" no transactions", m.width)))
	}
	return strings.Join(lines, "\n")
}

func shortHandle(h string) string {
	if len(h) > 18 {
		return h[:10] + "..." + h[len(h)-6:]
	}
	return h
}

// renderNotifications shows the most recent notifications, newest last.
func (m Model) renderNotifications() string {
	notes := m.snap.Notifications
	if len(notes) > notificationLines {
		notes = notes[len(notes)-notificationLines:]
	}
	lines := []string{separatorLine(m.width)}
	for _, n := range notes {
		lines = append(lines, formatInfoLine(fmt.Sprintf(" %s  %s", n.At.Format("15:04:05"), n.Message), m.width))
	}
	if len(notes) == 0 {
		lines = append(lines, formatInfoLine(" no notifications yet", m.width))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	style := dimStyle
	prompt := ": command  q quit  (register <addr> | admin <addr> | start <secs> <party>... | stop | vote <party>)"
	switch {
	case m.editing:
		style, prompt = titleStyle, ":"+string(m.input)+"█"
	case m.status != "" && m.failed:
		style, prompt = errStyle, m.status
	case m.status != "":
		style, prompt = okStyle, m.status
	}
	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	return separatorLine(m.width) + "\n" + style.Render(formatInfoLine(" "+prompt, m.width)) + "\n" + bottomBorder
}

// Run starts the TUI program. It quits when updateCh is closed.
func Run(updateCh <-chan Snapshot, submit SubmitFunc) error {
	m := NewModel(submit)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for snap := range updateCh {
			p.Send(UpdateMsg{Snapshot: snap})
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
