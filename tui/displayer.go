package tui

import (
	"fmt"
	"io"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the session flow.
type Displayer interface {
	Banner()
	Notice(text string)
	SessionFound()
	SessionMissing()
	LoggingIn(email string)
	LoginOK()
	Refreshing()
	RefreshOK()
	SessionEnded(reason string)
	LoadingProfile()
	Profile(name, email string, instructor bool)
	FetchingCourses()
	Courses(count int)
	APICallFailed(err error)
	LoggedOut()
	Done(email, tokenPreview string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w. Used when stderr is not a
// TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Uplas Learner Console ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Notice(text string) {
	fmt.Fprintf(p.w, "Notice: %s\n", text)
}

func (p *PlainDisplayer) SessionFound() {
	fmt.Fprintln(p.w, "Found existing session.")
}

func (p *PlainDisplayer) SessionMissing() {
	fmt.Fprintln(p.w, "No existing session, logging in...")
}

func (p *PlainDisplayer) LoggingIn(email string) {
	fmt.Fprintf(p.w, "Logging in as %s...\n", email)
}

func (p *PlainDisplayer) LoginOK() {
	fmt.Fprintln(p.w, "Logged in successfully!")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Access token expired, renewing session...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Session renewed.")
}

func (p *PlainDisplayer) SessionEnded(reason string) {
	fmt.Fprintf(p.w, "Session ended: %s\n", reason)
}

func (p *PlainDisplayer) LoadingProfile() {
	fmt.Fprintln(p.w, "Fetching profile...")
}

func (p *PlainDisplayer) Profile(name, email string, instructor bool) {
	role := "learner"
	if instructor {
		role = "instructor"
	}
	fmt.Fprintf(p.w, "Signed in as %s <%s> (%s)\n", name, email, role)
}

func (p *PlainDisplayer) FetchingCourses() {
	fmt.Fprintln(p.w, "Fetching enrolled courses...")
}

func (p *PlainDisplayer) Courses(count int) {
	fmt.Fprintf(p.w, "Enrolled courses: %d\n", count)
}

func (p *PlainDisplayer) APICallFailed(err error) {
	fmt.Fprintf(p.w, "API call failed: %v\n", err)
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out.")
}

func (p *PlainDisplayer) Done(email, tokenPreview string) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Session active for: %s\n", email)
	fmt.Fprintf(p.w, "Access Token: %s...\n", tokenPreview)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                        {}
func (NoopDisplayer) Notice(_ string)                {}
func (NoopDisplayer) SessionFound()                  {}
func (NoopDisplayer) SessionMissing()                {}
func (NoopDisplayer) LoggingIn(_ string)             {}
func (NoopDisplayer) LoginOK()                       {}
func (NoopDisplayer) Refreshing()                    {}
func (NoopDisplayer) RefreshOK()                     {}
func (NoopDisplayer) SessionEnded(_ string)          {}
func (NoopDisplayer) LoadingProfile()                {}
func (NoopDisplayer) Profile(_, _ string, _ bool)    {}
func (NoopDisplayer) FetchingCourses()               {}
func (NoopDisplayer) Courses(_ int)                  {}
func (NoopDisplayer) APICallFailed(_ error)          {}
func (NoopDisplayer) LoggedOut()                     {}
func (NoopDisplayer) Done(_, _ string)               {}
func (NoopDisplayer) Fatal(_ error)                  {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Notice(text string) {
	t.p.Send(MsgNotice{Text: text})
}

func (t *ProgramDisplayer) SessionFound() {
	t.p.Send(MsgSessionFound{})
}

func (t *ProgramDisplayer) SessionMissing() {
	t.p.Send(MsgSessionMissing{})
}

func (t *ProgramDisplayer) LoggingIn(email string) {
	t.p.Send(MsgLoggingIn{Email: email})
}

func (t *ProgramDisplayer) LoginOK() {
	t.p.Send(MsgLoginOK{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) SessionEnded(reason string) {
	t.p.Send(MsgSessionEnded{Reason: reason})
}

func (t *ProgramDisplayer) LoadingProfile() {
	t.p.Send(MsgLoadingProfile{})
}

func (t *ProgramDisplayer) Profile(name, email string, instructor bool) {
	t.p.Send(MsgProfile{Name: name, Email: email, Instructor: instructor})
}

func (t *ProgramDisplayer) FetchingCourses() {
	t.p.Send(MsgFetchingCourses{})
}

func (t *ProgramDisplayer) Courses(count int) {
	t.p.Send(MsgCourses{Count: count})
}

func (t *ProgramDisplayer) APICallFailed(err error) {
	t.p.Send(MsgAPICallFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) Done(email, tokenPreview string) {
	t.p.Send(MsgDone{Email: email, TokenPreview: tokenPreview})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
