// Package transaction builds the inputs of a shielded transaction: it picks
// the UTXOs to spend, creates recipient and change outputs, and validates
// the assembled parameters before they are handed to a prover.
package transaction

import (
	"fmt"
	"strings"
)

// Action is the kind of transaction being built.
type Action int

const (
	ActionUndefined Action = iota
	ActionShield           // public funds enter the pool
	ActionUnshield         // shielded funds leave the pool
	ActionTransfer         // funds move inside the pool
)

func (a Action) String() string {
	switch a {
	case ActionShield:
		return "SHIELD"
	case ActionUnshield:
		return "UNSHIELD"
	case ActionTransfer:
		return "TRANSFER"
	default:
		return "UNDEFINED"
	}
}

// ParseAction accepts the names returned by String, case-insensitively.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(s) {
	case "SHIELD":
		return ActionShield, nil
	case "UNSHIELD":
		return ActionUnshield, nil
	case "TRANSFER":
		return ActionTransfer, nil
	}
	return ActionUndefined, fmt.Errorf("unknown action %q", s)
}

// withdraws reports whether public amounts flow out of the pool and a relayer
// is paid.
func (a Action) withdraws() bool {
	return a == ActionUnshield || a == ActionTransfer
}
