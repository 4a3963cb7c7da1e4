// Package ui defines the port between the core and a window toolkit.
//
// Every Surface method must be called on the dispatcher goroutine. Toolkit
// bindings implement Surface; Headless and Console ship with the core.
package ui

// Question is a modal prompt with ordered answers.
type Question struct {
	Title   string
	Body    string
	Answers []string
}

// Surface is what the core drives on screen.
type Surface interface {
	SetBoardVisible(visible bool)
	SetGaugeVisible(visible bool)
	// SetBoardEnabled locks or unlocks user input on the board.
	SetBoardEnabled(enabled bool)
	// Announce shows a full-window guide message such as "Loading...".
	Announce(text string)
	ClearAnnouncement()
	SetGaugeText(text string)
	SetLabel(key, text string)
	AppendLog(summary, detail string)
	// Ask shows q and reports the index of the chosen answer. answer may be
	// called from any goroutine and is called at most once.
	Ask(q Question, answer func(index int))
	// Close destroys the window.
	Close()
}
