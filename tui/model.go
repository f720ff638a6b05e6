package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of the session flow.
type state int

const (
	stateInit       state = iota
	stateLoggingIn        // exchanging credentials
	stateRefreshing       // renewing the access token
	stateLoading          // profile / course fetches in flight
	stateReady            // session active, profile shown
	stateEnded            // session terminated by the backend
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session-status TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Profile panel
	name       string
	email      string
	instructor bool
	courses    int
	hasCourses bool

	// Success / failure display
	tokenPreview string
	endedReason  string
	errMsg       string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles — defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	styleProfileBox = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("39"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session flow messages ────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgNotice:
		m.addStatus(statusWarn, msg.Text)
		return m, nil

	case MsgSessionFound:
		m.addStatus(statusOK, "Found existing session")
		return m, nil

	case MsgSessionMissing:
		m.addStatus(statusInfo, "No existing session, logging in")
		m.state = stateLoggingIn
		return m, nil

	case MsgLoggingIn:
		m.state = stateLoggingIn
		m.email = msg.Email
		m.addStatus(statusInfo, "Logging in as "+msg.Email+"...")
		return m, nil

	case MsgLoginOK:
		m.addStatus(statusOK, "Logged in successfully")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Renewing session...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Session renewed")
		return m, nil

	case MsgSessionEnded:
		m.endedReason = msg.Reason
		m.state = stateEnded
		return m, nil

	case MsgLoadingProfile:
		m.state = stateLoading
		m.addStatus(statusInfo, "Fetching profile...")
		return m, nil

	case MsgProfile:
		m.name = msg.Name
		m.email = msg.Email
		m.instructor = msg.Instructor
		m.addStatus(statusOK, "Profile loaded")
		return m, nil

	case MsgFetchingCourses:
		m.state = stateLoading
		m.addStatus(statusInfo, "Fetching enrolled courses...")
		return m, nil

	case MsgCourses:
		m.courses = msg.Count
		m.hasCourses = true
		m.addStatus(statusOK, fmt.Sprintf("Enrolled courses: %d", msg.Count))
		return m, nil

	case MsgAPICallFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgLoggedOut:
		m.addStatus(statusOK, "Logged out")
		return m, nil

	case MsgDone:
		m.email = msg.Email
		m.tokenPreview = msg.TokenPreview
		m.state = stateReady
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateReady:
		return tea.NewView(m.viewReady())
	case stateEnded:
		return tea.NewView(m.viewEnded())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown during init, login, refresh, and loading.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Uplas Learner Console  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateLoggingIn:
		b.WriteString(m.spinner.View())
		b.WriteString(" Logging in...\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Renewing session...\n")

	case stateLoading:
		b.WriteString(m.spinner.View())
		b.WriteString(" Loading...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewReady is shown once the session is active and the profile resolved.
func (m Model) viewReady() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Session active"))
	b.WriteString("\n\n")

	b.WriteString(styleProfileBox.Render(m.renderProfile()))
	b.WriteString("\n\n")

	b.WriteString(styleBold.Render("Access Token: "))
	b.WriteString(m.tokenPreview + "...\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// renderProfile renders the profile panel contents.
func (m Model) renderProfile() string {
	var b strings.Builder

	name := m.name
	if name == "" {
		name = m.email
	}
	b.WriteString(styleBold.Render(name))
	b.WriteString("\n")
	b.WriteString(styleDim.Render(m.email))
	b.WriteString("\n")
	if m.instructor {
		b.WriteString("Instructor")
	} else {
		b.WriteString("Learner")
	}
	if m.hasCourses {
		b.WriteString(fmt.Sprintf("  ·  %d enrolled", m.courses))
	}
	return b.String()
}

// viewEnded is shown when the backend terminated the session.
func (m Model) viewEnded() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleWarn.Render("  ⚠ Session ended"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.endedReason))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Something went wrong"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
