// Package command maps raw chat messages to dispatch plan templates.
package command

import "strings"

// Account identifies one of the fixed sender accounts.
type Account string

const (
	AccountGhost   Account = "ghost"
	AccountTitan   Account = "titan"
	AccountStriker Account = "striker"
	AccountSentry  Account = "sentry"
)

// FanOutAccounts is the fixed three-way split, in dispatch order.
var FanOutAccounts = []Account{AccountTitan, AccountStriker, AccountGhost}

// Category distinguishes single-account dispatches from the three-way fan-out.
type Category int

const (
	CategorySingle Category = iota
	CategoryFanOut
)

// Keyword markers, checked in priority order; first match wins.
// Matching is case-insensitive on the whole message.
const (
	markerAllRealms = "allrealms"
	markerUrgent    = "urgent"
	markerTitan     = "titan"
	markerStrike    = "strike"
)

// Template is the classified shape of a command before admission.
// Fan-out templates carry no quantity; the split is computed from the room's
// remaining hourly budget at reservation time.
type Template struct {
	Category Category
	Power    int // exponent for the challenge code
	Quantity int // per-dispatch quantity; zero for fan-out
	Account  Account
}

// Classify derives a plan template from keyword presence in the message.
func Classify(message string) Template {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, markerAllRealms):
		return Template{Category: CategoryFanOut, Power: 5}
	case strings.Contains(m, markerUrgent):
		return Template{Category: CategorySingle, Power: 6, Quantity: 1, Account: AccountSentry}
	case strings.Contains(m, markerTitan):
		return Template{Category: CategorySingle, Power: 4, Quantity: 100, Account: AccountTitan}
	case strings.Contains(m, markerStrike):
		return Template{Category: CategorySingle, Power: 3, Quantity: 10, Account: AccountStriker}
	default:
		return Template{Category: CategorySingle, Power: 2, Quantity: 1, Account: AccountGhost}
	}
}

// BattleAssistQuantity returns the fixed quantity for the trusted battle-assist
// path, which bypasses classification and the challenge entirely.
func BattleAssistQuantity(enhancedMode bool) int {
	if enhancedMode {
		return 10
	}
	return 1
}
