package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/session"
	"github.com/desertthunder/songbird/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	AccountListView ViewState = iota
	ConfirmRemoveView
	DownloadView
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	switcher     *session.Switcher
	orchestrator *tasks.Orchestrator
	events       *logsink.Recorder
	width        int
	height       int
	accountList  list.Model
	accounts     []models.Account
	pending      *accountItem
	progressChan chan tasks.ProgressUpdate
	progress     tasks.ProgressUpdate
	run          *tasks.Run
	result       *tasks.Result
	status       string
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model. A nil orchestrator disables starting downloads; a nil recorder hides the
// status line.
func NewModel(ctx context.Context, switcher *session.Switcher, orchestrator *tasks.Orchestrator, events *logsink.Recorder) *Model {
	m := &Model{
		ctx:          ctx,
		view:         AccountListView,
		switcher:     switcher,
		orchestrator: orchestrator,
		events:       events,
		width:        80,
		height:       24,
		help:         help.New(),
		keys:         newKeyMap(),
	}
	m.accountList = list.New(nil, list.NewDefaultDelegate(), m.width-4, m.height-8)
	m.accountList.Title = "Spotify Accounts"
	m.accountList.SetShowHelp(false)
	return m
}

// Init loads the account registry.
func (m *Model) Init() tea.Cmd {
	return m.loadAccounts()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.accountList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case AccountListView:
			return m.handleListKeys(msg)
		case ConfirmRemoveView:
			return m.handleConfirmKeys(msg)
		case DownloadView:
			return m.handleDownloadKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.accountList, cmd = m.accountList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgAccountsLoaded:
		data := msg.data.(accountsLoaded)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		m.accounts = data.accounts
		cmd := m.accountList.SetItems(accountItems(data.accounts))
		return m, cmd

	case MsgActionDone:
		data := msg.data.(actionDone)
		m.err = data.err
		if data.err == nil {
			m.status = data.status
		}
		return m, m.loadAccounts()

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgRunSettled:
		result := msg.data.(tasks.Result)
		m.result = &result
		m.progressChan = nil
		return m, m.loadAccounts()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case AccountListView:
		body = m.renderList()
	case ConfirmRemoveView:
		body = m.renderConfirm()
	case DownloadView:
		body = m.renderDownload()
	}
	return body + "\n" + m.renderStatus()
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.accountList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.accountList, cmd = m.accountList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.activate):
		if item, ok := m.selected(); ok {
			return m, m.activate(item)
		}
		return m, nil
	case key.Matches(msg, m.keys.remove):
		if item, ok := m.selected(); ok {
			m.pending = &item
			m.view = ConfirmRemoveView
		}
		return m, nil
	case key.Matches(msg, m.keys.download):
		return m, m.startDownload()
	}

	var cmd tea.Cmd
	m.accountList, cmd = m.accountList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		item := m.pending
		m.pending = nil
		m.view = AccountListView
		if item == nil {
			return m, nil
		}
		return m, m.remove(*item)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.pending = nil
		m.view = AccountListView
	}
	return m, nil
}

func (m *Model) handleDownloadKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		if m.run != nil && m.result == nil {
			m.run.Cancel()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.activate):
		if m.result != nil {
			m.view = AccountListView
			m.run = nil
			m.result = nil
		}
	}
	return m, nil
}

func (m *Model) selected() (accountItem, bool) {
	item, ok := m.accountList.SelectedItem().(accountItem)
	return item, ok
}

func (m *Model) loadAccounts() tea.Cmd {
	return func() tea.Msg {
		accounts, err := m.switcher.Store().List()
		return accountsLoadedMsg(accounts, err)
	}
}

func (m *Model) activate(item accountItem) tea.Cmd {
	return func() tea.Msg {
		a, err := m.switcher.Switch(item.index)
		return actionDoneMsg(fmt.Sprintf("Switched to %s", a.DisplayName), err)
	}
}

func (m *Model) remove(item accountItem) tea.Cmd {
	return func() tea.Msg {
		err := m.switcher.Store().Remove(item.index)
		return actionDoneMsg(fmt.Sprintf("Removed %s", item.account.DisplayName), err)
	}
}

func (m *Model) startDownload() tea.Cmd {
	if m.orchestrator == nil {
		m.status = "Downloads are not available here"
		return nil
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	run, err := m.orchestrator.Start(m.ctx, tasks.Request{Progress: progress})
	if err != nil {
		m.err = err
		return nil
	}

	m.err = nil
	m.run = run
	m.result = nil
	m.progress = tasks.ProgressUpdate{RunID: run.ID, Message: "Starting..."}
	m.progressChan = progress
	m.view = DownloadView

	go func() {
		<-run.Done()
		close(progress)
	}()
	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	ch, run := m.progressChan, m.run
	return func() tea.Msg {
		if ch == nil {
			return runSettledMsg(run.Result())
		}
		update, ok := <-ch
		if !ok {
			return runSettledMsg(run.Result())
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderList() string {
	header := styles.help.Render(m.switcher.Store().CurrentAccountInfo())
	if len(m.accounts) == 0 {
		header = styles.warn.Render("No accounts yet. Add one with: songbird accounts add")
	}

	helpKeys := []key.Binding{m.keys.activate, m.keys.remove, m.keys.quit}
	if m.orchestrator != nil {
		helpKeys = []key.Binding{m.keys.activate, m.keys.remove, m.keys.download, m.keys.quit}
	}
	return fmt.Sprintf("%s\n%s\n\n%s", header, m.accountList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	if m.pending == nil {
		return ""
	}
	title := styles.title.Render(fmt.Sprintf("Remove '%s'?", m.pending.account.DisplayName))
	info := "\nIts cached login will be deleted.\n"
	if m.pending.account.IsActive {
		info += styles.warn.Render("This is the active account; the first remaining account becomes active.") + "\n"
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderDownload() string {
	title := styles.title.Render("Download")

	if m.result != nil {
		var line string
		if m.result.OK() {
			line = styles.ok.Render(fmt.Sprintf("✓ Download complete for %s", m.result.Account))
			if m.result.Status != "" {
				line += "\n" + m.result.Status
			}
		} else {
			line = styles.err.Render(fmt.Sprintf("Download failed: %v", m.result.Err))
		}
		helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.quit})
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, line, helpView)
	}

	step := ""
	if m.progress.Total > 0 {
		step = fmt.Sprintf("[%d/%d] ", m.progress.Step, m.progress.Total)
	}
	return fmt.Sprintf("%s\n\n%s%s\n%s", title, step, m.progress.State, m.progress.Message)
}

func (m *Model) renderStatus() string {
	line := m.status
	if m.err != nil {
		return styles.status.Render(styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	if m.events != nil {
		if e, ok := m.events.Last(); ok {
			line = e.String()
		}
	}
	if line == "" {
		return ""
	}
	return styles.status.Render(line)
}
