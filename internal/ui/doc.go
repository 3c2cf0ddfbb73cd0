// Package ui implements the account picker using bubbletea's Elm architecture.
//
// Views:
//  1. [AccountListView] : Browse accounts; the active one is marked
//  2. [ConfirmRemoveView] : Confirm removing the selected account
//  3. [DownloadView] : Monitor a download run's progress
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg
// union type. Activation goes through the session switcher so the credential projection is rebuilt before the
// list refreshes. The status line shows the most recent log sink event.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, d, s, y/n, esc, q) with contextual help displayed via
// charmbracelet/bubbles/help.
package ui
