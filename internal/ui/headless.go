package ui

import (
	"sync"
)

// Headless is a Surface without a window. It records what it is told and
// answers questions from a script, falling back to DefaultAnswer.
type Headless struct {
	mu sync.Mutex

	DefaultAnswer int

	script        []int
	boardVisible  bool
	boardEnabled  bool
	gaugeVisible  bool
	announcement  string
	announcements []string
	gaugeText     string
	labels        map[string]string
	logs          []string
	questions     []Question
	closed        int
	closedCh      chan struct{}
}

// NewHeadless creates a headless surface that answers questions with answers in order.
func NewHeadless(answers ...int) *Headless {
	return &Headless{
		script:       answers,
		boardEnabled: true,
		labels:       make(map[string]string),
		closedCh:     make(chan struct{}),
	}
}

func (h *Headless) SetBoardVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boardVisible = visible
}

func (h *Headless) SetBoardEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boardEnabled = enabled
}

func (h *Headless) SetGaugeVisible(visible bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gaugeVisible = visible
}

func (h *Headless) Announce(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.announcement = text
	h.announcements = append(h.announcements, text)
}

func (h *Headless) ClearAnnouncement() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.announcement = ""
}

func (h *Headless) SetGaugeText(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gaugeText = text
}

func (h *Headless) SetLabel(key, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.labels[key] = text
}

func (h *Headless) AppendLog(summary, detail string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, summary+"\n"+detail)
}

func (h *Headless) Ask(q Question, answer func(index int)) {
	h.mu.Lock()
	h.questions = append(h.questions, q)
	choice := h.DefaultAnswer
	if len(h.script) > 0 {
		choice = h.script[0]
		h.script = h.script[1:]
	}
	h.mu.Unlock()

	answer(choice)
}

func (h *Headless) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	if h.closed == 1 {
		close(h.closedCh)
	}
}

// Closed is closed the first time Close is called.
func (h *Headless) Closed() <-chan struct{} {
	return h.closedCh
}

// CloseCount reports how many times Close was called.
func (h *Headless) CloseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// BoardVisible reports the board visibility.
func (h *Headless) BoardVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boardVisible
}

// BoardEnabled reports whether the board accepts input.
func (h *Headless) BoardEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boardEnabled
}

// GaugeVisible reports the gauge visibility.
func (h *Headless) GaugeVisible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gaugeVisible
}

// Announcement returns the current guide message.
func (h *Headless) Announcement() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.announcement
}

// Announcements returns every guide message shown, in order.
func (h *Headless) Announcements() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.announcements...)
}

// GaugeText returns the gauge text.
func (h *Headless) GaugeText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gaugeText
}

// Label returns the text of label key.
func (h *Headless) Label(key string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.labels[key]
}

// Logs returns appended log entries.
func (h *Headless) Logs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.logs...)
}

// Questions returns every question asked, in order.
func (h *Headless) Questions() []Question {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Question(nil), h.questions...)
}
