package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/songbird/internal/models"
)

var _ list.Item = accountItem{}

// accountItem wraps [models.Account] and its registry index to implement [list.Item].
type accountItem struct {
	account models.Account
	index   int
}

func (i accountItem) FilterValue() string { return i.account.DisplayName }

func (i accountItem) Title() string {
	if i.account.IsActive {
		return "● " + i.account.DisplayName
	}
	return "  " + i.account.DisplayName
}

func (i accountItem) Description() string {
	desc := "client " + mask(i.account.ClientID)
	if user := i.account.User(); user != "" {
		desc = fmt.Sprintf("%s • user %s", desc, user)
	}
	if i.account.IsActive {
		desc += " • active"
	}
	return desc
}

// mask hides all but the last four characters of an id.
func mask(id string) string {
	if len(id) <= 4 {
		return id
	}
	return "…" + id[len(id)-4:]
}

func accountItems(accounts []models.Account) []list.Item {
	items := make([]list.Item, len(accounts))
	for i, a := range accounts {
		items[i] = accountItem{account: a, index: i}
	}
	return items
}
