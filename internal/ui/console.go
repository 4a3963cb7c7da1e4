package ui

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Console renders the surface as lines of text and reads answers from a reader.
type Console struct {
	out io.Writer
	in  *bufio.Reader

	mu      sync.Mutex
	labels  map[string]string
	showLog bool
	closed  chan struct{}
	once    sync.Once

	// Open questions in the order they were asked. One goroutine reads
	// c.in and answers them front to back.
	askMu      sync.Mutex
	asks       []pendingAsk
	askWake    chan struct{}
	readerOnce sync.Once
}

type pendingAsk struct {
	answers int
	answer  func(index int)
}

// NewConsole creates a console surface. Log entries are printed when showLog is set.
func NewConsole(in io.Reader, out io.Writer, showLog bool) *Console {
	return &Console{
		out:     out,
		in:      bufio.NewReader(in),
		labels:  make(map[string]string),
		showLog: showLog,
		closed:  make(chan struct{}),
		askWake: make(chan struct{}, 1),
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) SetBoardVisible(visible bool) {
	if visible {
		c.printf("[board] shown")
	} else {
		c.printf("[board] hidden")
	}
}

func (c *Console) SetBoardEnabled(enabled bool) {
	if enabled {
		c.printf("[board] unlocked")
	} else {
		c.printf("[board] locked")
	}
}

func (c *Console) SetGaugeVisible(visible bool) {
	if visible {
		c.printf("[gauge] shown")
	} else {
		c.printf("[gauge] hidden")
	}
}

func (c *Console) Announce(text string) {
	c.printf("== %s ==", text)
}

func (c *Console) ClearAnnouncement() {}

func (c *Console) SetGaugeText(text string) {
	c.printf("[gauge] %s", text)
}

// SetLabel prints only changes, since most labels are refreshed every second.
func (c *Console) SetLabel(key, text string) {
	c.mu.Lock()
	if c.labels[key] == text {
		c.mu.Unlock()
		return
	}
	c.labels[key] = text
	c.mu.Unlock()

	c.printf("[%s] %s", key, text)
}

func (c *Console) AppendLog(summary, detail string) {
	if !c.showLog {
		return
	}
	c.printf("%s\n%s", summary, detail)
}

// Ask prints q and queues it for the answer reader. Questions open at the
// same time are answered in the order they were asked, one input line each.
// Input that is not a valid answer number selects the first answer.
func (c *Console) Ask(q Question, answer func(index int)) {
	var b strings.Builder
	fmt.Fprintf(&b, "?? %s\n", q.Title)
	if q.Body != "" {
		fmt.Fprintf(&b, "%s\n", q.Body)
	}
	for i, a := range q.Answers {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, a)
	}
	b.WriteString("> ")
	c.mu.Lock()
	io.WriteString(c.out, b.String())
	c.mu.Unlock()

	c.askMu.Lock()
	c.asks = append(c.asks, pendingAsk{answers: len(q.Answers), answer: answer})
	c.askMu.Unlock()

	c.readerOnce.Do(func() { go c.readAnswers() })
	select {
	case c.askWake <- struct{}{}:
	default:
	}
}

// readAnswers is the only reader of c.in.
func (c *Console) readAnswers() {
	for {
		c.askMu.Lock()
		if len(c.asks) == 0 {
			c.askMu.Unlock()
			select {
			case <-c.askWake:
				continue
			case <-c.closed:
				return
			}
		}
		next := c.asks[0]
		c.asks = c.asks[1:]
		c.askMu.Unlock()

		line, _ := c.in.ReadString('\n')
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || n < 1 || n > next.answers {
			n = 1
		}
		next.answer(n - 1)
	}
}

func (c *Console) Close() {
	c.once.Do(func() {
		c.printf("[window] closed")
		close(c.closed)
	})
}

// Closed is closed once Close has been called.
func (c *Console) Closed() <-chan struct{} {
	return c.closed
}
