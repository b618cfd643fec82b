package watchlist

import "strings"

const GlobalOwner = "global"

// OwnerScheme maps a chat identity to the watchlist owner key.
type OwnerScheme string

const (
	ScopeUser   OwnerScheme = "user"
	ScopeGlobal OwnerScheme = "global"
)

func (s OwnerScheme) OwnerFor(senderID string) string {
	senderID = strings.TrimSpace(senderID)
	if s == ScopeGlobal || senderID == "" {
		return GlobalOwner
	}
	return senderID
}
