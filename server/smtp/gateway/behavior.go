/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"fmt"
)

// Behavior selects how the gateway answers recipients without a valid token.
type Behavior int

const (
	// BehaviorRelay relays everything, but answers with a notice when no
	// valid token was presented.
	BehaviorRelay Behavior = iota
	// BehaviorRequest requests a token on the sender's behalf when none
	// was presented, and rejects invalid ones.
	BehaviorRequest
	// BehaviorRefuse553 rejects recipients without a valid token with a
	// policy reply which names the reason.
	BehaviorRefuse553
	// BehaviorRefuse rejects recipients without a valid token with a
	// generic mailbox unavailable reply.
	BehaviorRefuse
)

// ParseBehavior maps a configuration value to a Behavior. Unknown values are
// an error so that a bad configuration aborts startup.
func ParseBehavior(value string) (Behavior, error) {
	switch value {
	case "RELAY":
		return BehaviorRelay, nil
	case "REQUEST":
		return BehaviorRequest, nil
	case "REFUSE553":
		return BehaviorRefuse553, nil
	case "REFUSE":
		return BehaviorRefuse, nil
	default:
		return 0, fmt.Errorf("unknown SMTP behavior: %q", value)
	}
}

func (b Behavior) String() string {
	switch b {
	case BehaviorRelay:
		return "RELAY"
	case BehaviorRequest:
		return "REQUEST"
	case BehaviorRefuse553:
		return "REFUSE553"
	case BehaviorRefuse:
		return "REFUSE"
	default:
		return fmt.Sprintf("Behavior(%d)", int(b))
	}
}
