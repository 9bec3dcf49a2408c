package devicepair

import "context"

// PairingState is the pairing phase derived from what the store holds.
type PairingState int

const (
	StateUnregistered PairingState = iota
	StateRegistered
	StateLinked
	StateExpired
)

func (s PairingState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateLinked:
		return "linked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the stored pairing data.
type Status struct {
	State PairingState
	Info  *DeviceInfo
	Token *DeviceToken
}

// Status reports the current pairing phase without touching the network.
// A token wins over device info; an expired pairing code counts as unregistered.
func (c *Client) Status(ctx context.Context) (Status, error) {
	token, err := c.GetStoredToken(ctx)
	if err != nil {
		return Status{}, err
	}
	info, err := c.GetStoredDeviceInfo(ctx)
	if err != nil {
		return Status{}, err
	}

	now := c.now()
	st := Status{Info: info, Token: token}
	switch {
	case token != nil && token.Valid(now, c.config.ExpiryMargin):
		st.State = StateLinked
	case token != nil:
		st.State = StateExpired
	case info != nil && !info.Expired(now):
		st.State = StateRegistered
	default:
		st.State = StateUnregistered
	}
	return st, nil
}
