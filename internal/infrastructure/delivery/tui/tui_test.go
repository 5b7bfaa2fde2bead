package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"douyindl/internal/entity"
	"douyindl/internal/orchestrator"
	"douyindl/internal/profile"
	"douyindl/pkg/logger"
)

type fakeRunner struct {
	mu      sync.Mutex
	urls    []string
	cancels int
	err     error
}

func (f *fakeRunner) Start(_ context.Context, urls []string, _ entity.RunOptions, cb orchestrator.Callbacks) (string, error) {
	f.mu.Lock()
	f.urls = urls
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	for i, u := range urls {
		cb.OnItemResult(entity.ItemResult{Index: i, SourceURL: u, Success: true})
		cb.OnProgress(float64(i+1)/float64(len(urls)), i+1, len(urls))
	}

	cb.OnComplete(entity.RunSnapshot{ID: "r1", Done: true, Summary: entity.RunSummary{Succeeded: len(urls)}})

	return "r1", nil
}

func (f *fakeRunner) Cancel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancels++

	return nil
}

type fakeProfiles map[string][]string

func (f fakeProfiles) Enumerate(_ context.Context, u string, onProgress profile.ProgressFunc) ([]string, error) {
	urls, ok := f[u]
	if !ok {
		return nil, errors.New("profile unavailable")
	}

	onProgress(len(urls), len(urls), "done")

	return urls, nil
}

func testModel(runner Runner, profiles ProfileEnumerator, inputs ...string) (model, *[]tea.Msg) {
	m := newModel(context.Background(), logger.Discard(), runner, profiles, inputs, entity.RunOptions{Workers: 1})

	var (
		mu   sync.Mutex
		sent []tea.Msg
	)

	m.bridge.send = func(msg tea.Msg) {
		mu.Lock()
		defer mu.Unlock()

		sent = append(sent, msg)
	}

	return m, &sent
}

func TestExpandKeepsOrder(t *testing.T) {
	profiles := fakeProfiles{
		"https://www.douyin.com/user/MS4wA": {"https://cdn/a1.mp4", "https://cdn/a2.mp4"},
	}

	m, sent := testModel(&fakeRunner{}, profiles,
		"https://www.douyin.com/video/1",
		"https://www.douyin.com/user/MS4wA",
		"https://www.douyin.com/user/MS4wBroken",
		"https://www.douyin.com/video/2",
	)

	msg, ok := m.expandCmd()().(expandedMsg)
	if !ok {
		t.Fatal("expandCmd did not return expandedMsg")
	}

	want := []string{
		"https://www.douyin.com/video/1",
		"https://cdn/a1.mp4",
		"https://cdn/a2.mp4",
		"https://www.douyin.com/video/2",
	}

	if strings.Join(msg.urls, ",") != strings.Join(want, ",") {
		t.Fatalf("urls = %v, want %v", msg.urls, want)
	}

	if len(*sent) != 1 {
		t.Fatalf("expected one enumeration progress message, got %d", len(*sent))
	}

	if p := (*sent)[0].(enumProgressMsg); p.found != 3 {
		t.Errorf("found = %d, want 3 counting the earlier input", p.found)
	}
}

func TestRunFlow(t *testing.T) {
	runner := &fakeRunner{}
	m, sent := testModel(runner, nil, "https://www.douyin.com/video/1", "https://www.douyin.com/video/2")

	next, cmd := m.Update(expandedMsg{urls: m.inputs})
	m = next.(model)

	if m.phase != phaseRunning || m.total != 2 {
		t.Fatalf("phase = %v total = %d after expansion", m.phase, m.total)
	}

	started, ok := cmd().(startedMsg)
	if !ok || started.err != nil || started.id != "r1" {
		t.Fatalf("start = %+v", started)
	}

	next, _ = m.Update(started)
	m = next.(model)

	var quit tea.Cmd

	for _, msg := range *sent {
		next, quit = m.Update(msg)
		m = next.(model)
	}

	if m.phase != phaseDone || m.final == nil || m.final.Summary.Succeeded != 2 {
		t.Fatalf("final = %+v", m.final)
	}

	if m.completed != 2 || len(m.recent) != 2 {
		t.Errorf("completed = %d recent = %d", m.completed, len(m.recent))
	}

	if _, ok := quit().(tea.QuitMsg); !ok {
		t.Error("completion did not quit")
	}

	if view := m.View(); !strings.Contains(view, "2 ok") || !strings.Contains(view, "run r1") {
		t.Errorf("view = %q", view)
	}
}

func TestCancelOnce(t *testing.T) {
	runner := &fakeRunner{}
	m, _ := testModel(runner, nil, "https://www.douyin.com/video/1")
	m.phase = phaseRunning

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(model)

	if cmd == nil || !m.cancelling {
		t.Fatal("ctrl+c did not request cancellation")
	}

	cmd()

	if _, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}}); cmd != nil {
		t.Error("second cancel produced a command")
	}

	if runner.cancels != 1 {
		t.Errorf("cancels = %d, want 1", runner.cancels)
	}
}

func TestStartFailureQuits(t *testing.T) {
	m, _ := testModel(&fakeRunner{err: errors.New("run already active")}, nil, "https://www.douyin.com/video/1")

	_, cmd := m.Update(expandedMsg{urls: m.inputs})

	next, quit := m.Update(cmd())
	m = next.(model)

	if m.err == nil || m.phase != phaseDone {
		t.Fatalf("err = %v phase = %v", m.err, m.phase)
	}

	if _, ok := quit().(tea.QuitMsg); !ok {
		t.Error("start failure did not quit")
	}

	if !strings.Contains(m.View(), "run already active") {
		t.Error("view does not show the error")
	}
}

func TestNothingToDownload(t *testing.T) {
	m, _ := testModel(&fakeRunner{}, nil)

	next, _ := m.Update(expandedMsg{})
	if got := next.(model).View(); !strings.Contains(got, "nothing to download") {
		t.Errorf("view = %q", got)
	}
}

func TestResultLine(t *testing.T) {
	tests := []struct {
		result entity.ItemResult
		want   string
	}{
		{entity.ItemResult{ResourceID: "7301", Success: true}, "7301"},
		{entity.ItemResult{SourceURL: "https://x/1", Error: "transfer stalled"}, "transfer stalled"},
		{entity.ItemResult{ResourceID: "9", FilteredByOrientation: true, Orientation: entity.OrientationHorizontal}, "filtered"},
	}

	for _, tc := range tests {
		if got := resultLine(tc.result); !strings.Contains(got, tc.want) {
			t.Errorf("resultLine(%+v) = %q, want it to contain %q", tc.result, got, tc.want)
		}
	}
}
