package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"scrape-batch-manager/internal/model"
	"scrape-batch-manager/internal/runstore"
)

const watchRefreshInterval = 2 * time.Second

type watchModel struct {
	runDir   string
	spin     spinner.Model
	manifest model.RunManifest
	loaded   bool
	active   bool
	loadErr  error
	width    int

	fatalErr error
}

type watchLoadedMsg struct {
	manifest model.RunManifest
	active   bool
	err      error
}

type watchTickMsg time.Time

func runWatch(runDir string) error {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusTitleStyle

	m := watchModel{runDir: runDir, spin: sp}
	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("status --watch requires an interactive terminal (TTY)")
		}
		return err
	}
	if fm, ok := finalModel.(watchModel); ok {
		return fm.fatalErr
	}
	return nil
}

func loadWatchCmd(runDir string) tea.Cmd {
	return func() tea.Msg {
		var mf model.RunManifest
		err := runstore.ReadJSON(filepath.Join(runDir, "manifest.jobs.json"), &mf)
		return watchLoadedMsg{
			manifest: mf,
			active:   runstore.RunLockHeld(runDir),
			err:      err,
		}
	}
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(watchRefreshInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, loadWatchCmd(m.runDir), watchTickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case watchLoadedMsg:
		if msg.err != nil {
			// The launcher rewrites the manifest atomically, so a read
			// error here is persistent, not a torn write.
			m.loadErr = msg.err
		} else {
			m.loadErr = nil
			m.manifest = msg.manifest
			m.active = msg.active
			m.loaded = true
		}
		return m, nil
	case watchTickMsg:
		return m, tea.Batch(loadWatchCmd(m.runDir), watchTickCmd())
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, loadWatchCmd(m.runDir)
		}
		return m, nil
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	if m.active {
		b.WriteString(m.spin.View() + " ")
	}
	if !m.loaded {
		if m.loadErr != nil {
			b.WriteString(statusFailStyle.Render("error: ") + m.loadErr.Error() + "\n")
		} else {
			b.WriteString(statusMutedStyle.Render("loading "+m.runDir+" ...") + "\n")
		}
		b.WriteString(statusMutedStyle.Render("q quit  r refresh"))
		return b.String()
	}

	b.WriteString(renderStatus(m.runDir, m.manifest, m.active) + "\n")
	if m.loadErr != nil {
		b.WriteString(statusFailStyle.Render("refresh error: ") + m.loadErr.Error() + "\n")
	}
	b.WriteString(statusMutedStyle.Render(fmt.Sprintf("refreshes every %s   q quit  r refresh", watchRefreshInterval)))
	return b.String()
}
