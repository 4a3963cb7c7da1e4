package ui

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Surface = (*Headless)(nil)
	_ Surface = (*Console)(nil)
)

func TestHeadless_RecordsState(t *testing.T) {
	h := NewHeadless(1, 0)

	h.Announce("Loading...")
	h.Announce("Initializing...")
	h.ClearAnnouncement()
	h.SetBoardVisible(true)
	h.SetGaugeText("Online")
	h.SetLabel("task_presences", "worker-1: idle")
	h.AppendLog("■ 2026-01-01 00:00:00.000 INFO", "Started up")

	assert.Equal(t, []string{"Loading...", "Initializing..."}, h.Announcements())
	assert.Empty(t, h.Announcement())
	assert.True(t, h.BoardVisible())
	assert.True(t, h.BoardEnabled())
	h.SetBoardEnabled(false)
	assert.False(t, h.BoardEnabled())
	assert.False(t, h.GaugeVisible())
	assert.Equal(t, "Online", h.GaugeText())
	assert.Equal(t, "worker-1: idle", h.Label("task_presences"))
	assert.Len(t, h.Logs(), 1)

	var answers []int
	q := Question{Title: "Really quit?", Answers: []string{"Cancel", "Shut down"}}
	h.Ask(q, func(i int) { answers = append(answers, i) })
	h.Ask(q, func(i int) { answers = append(answers, i) })
	h.Ask(q, func(i int) { answers = append(answers, i) })
	assert.Equal(t, []int{1, 0, 0}, answers)
	assert.Len(t, h.Questions(), 3)

	h.Close()
	h.Close()
	assert.Equal(t, 2, h.CloseCount())
	select {
	case <-h.Closed():
	default:
		t.Fatal("closed channel not closed")
	}
}

func TestConsole_Ask(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("2\n"), &out, false)

	got := make(chan int, 1)
	c.Ask(Question{Title: "Really quit?", Answers: []string{"Cancel", "Shut down"}}, func(i int) { got <- i })

	select {
	case i := <-got:
		assert.Equal(t, 1, i)
	case <-time.After(time.Second):
		t.Fatal("no answer")
	}
	assert.Contains(t, out.String(), "2) Shut down")
}

func TestConsole_InvalidAnswerPicksFirst(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("yes please\n"), &out, false)

	got := make(chan int, 1)
	c.Ask(Question{Title: "Boot failed", Answers: []string{"Shut down"}}, func(i int) { got <- i })
	assert.Equal(t, 0, <-got)
}

func TestConsole_OpenQuestionsAnsweredInOrder(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("2\n1\n"), &out, false)

	got := make(chan string, 2)
	c.Ask(Question{Title: "Boot failure", Answers: []string{"Shut down", "Details"}}, func(i int) {
		got <- fmt.Sprintf("failure:%d", i)
	})
	c.Ask(Question{Title: "Really quit?", Answers: []string{"Cancel", "Shut down"}}, func(i int) {
		got <- fmt.Sprintf("close:%d", i)
	})

	var answers []string
	for len(answers) < 2 {
		select {
		case a := <-got:
			answers = append(answers, a)
		case <-time.After(time.Second):
			t.Fatalf("got %d of 2 answers", len(answers))
		}
	}
	assert.Equal(t, []string{"failure:1", "close:0"}, answers)
	c.Close()
}

func TestConsole_LabelsPrintOnChange(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out, true)

	c.SetLabel("status", "Online")
	c.SetLabel("status", "Online")
	c.SetLabel("status", "Offline")
	c.AppendLog("summary", "detail")
	c.Close()
	c.Close()

	text := out.String()
	require.Equal(t, 1, strings.Count(text, "[status] Online"))
	assert.Contains(t, text, "[status] Offline")
	assert.Contains(t, text, "summary\ndetail")
	assert.Equal(t, 1, strings.Count(text, "[window] closed"))
}
