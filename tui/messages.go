package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgNotice carries the one-shot auth notice left by a previous session
// termination.
type MsgNotice struct{ Text string }

// MsgSessionFound signals that a stored session was found.
type MsgSessionFound struct{}

// MsgSessionMissing signals that no stored session exists.
type MsgSessionMissing struct{}

// MsgLoggingIn signals that a login attempt has started.
type MsgLoggingIn struct{ Email string }

// MsgLoginOK signals a successful login.
type MsgLoginOK struct{}

// MsgRefreshing signals that the access token is being renewed.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the access token was renewed.
type MsgRefreshOK struct{}

// MsgSessionEnded signals a terminal auth failure; Reason is the
// human-readable message that will also show on the next login.
type MsgSessionEnded struct{ Reason string }

// MsgLoadingProfile signals that the user profile is being fetched.
type MsgLoadingProfile struct{}

// MsgProfile carries the resolved user profile for display.
type MsgProfile struct {
	Name       string
	Email      string
	Instructor bool
}

// MsgFetchingCourses signals that the enrolled-courses call has started.
type MsgFetchingCourses struct{}

// MsgCourses carries the enrolled-course count.
type MsgCourses struct{ Count int }

// MsgAPICallFailed signals that an authenticated API call failed.
type MsgAPICallFailed struct{ Err error }

// MsgLoggedOut signals that the session was ended on user request.
type MsgLoggedOut struct{}

// MsgDone signals successful completion of the demo flow.
type MsgDone struct {
	Email        string
	TokenPreview string
}

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
