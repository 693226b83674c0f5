package ui

import "github.com/Sivtheng/message-maxy/internal/app/domain/user"

// InboxEntry is one selectable peer.
type InboxEntry struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

// Inbox lists the peers the signed-in user can talk to.
type Inbox struct {
	Entries []InboxEntry `json:"entries"`
	Empty   string       `json:"empty,omitempty"`
}

// NewInbox renders profiles in the order given, marking selectedID.
func NewInbox(profiles []user.Profile, selectedID string) Inbox {
	inbox := Inbox{Entries: make([]InboxEntry, 0, len(profiles))}
	for _, p := range profiles {
		inbox.Entries = append(inbox.Entries, InboxEntry{
			ID:       p.ID,
			Label:    p.Label(),
			Selected: selectedID != "" && p.ID == selectedID,
		})
	}
	if len(inbox.Entries) == 0 {
		inbox.Empty = TextNoUsers
	}
	return inbox
}
