package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgAccountsLoaded MsgKind = iota
	MsgActionDone
	MsgProgressUpdate
	MsgRunSettled
)

type accountsLoaded struct {
	accounts []models.Account
	err      error
}

type actionDone struct {
	status string
	err    error
}

// accountsLoadedMsg is the constructor for [MsgAccountsLoaded]
func accountsLoadedMsg(accounts []models.Account, err error) Msg {
	return Msg{kind: MsgAccountsLoaded, data: accountsLoaded{accounts, err}}
}

// actionDoneMsg is the constructor for [MsgActionDone]
func actionDoneMsg(status string, err error) Msg {
	return Msg{kind: MsgActionDone, data: actionDone{status, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// runSettledMsg is the constructor for [MsgRunSettled]
func runSettledMsg(result tasks.Result) Msg {
	return Msg{kind: MsgRunSettled, data: result}
}
