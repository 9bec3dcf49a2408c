package devicepair

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DeviceInfo is an issued pairing session that has not been linked yet.
type DeviceInfo struct {
	DeviceID  string    `json:"deviceId" validate:"required"`
	Code      string    `json:"code" validate:"required"`
	ExpiresAt time.Time `json:"expiresAt" validate:"required"`
}

// Expired reports whether the pairing code can no longer be linked at now.
func (d DeviceInfo) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// DeviceToken is a bearer credential for calling the backend as the paired device.
type DeviceToken struct {
	Token     string    `json:"token" validate:"required"`
	ExpiresAt time.Time `json:"expiresAt" validate:"required"`
}

// Valid reports whether the token is still usable at now, treating it as
// expired once it is within margin of ExpiresAt.
func (t DeviceToken) Valid(now time.Time, margin time.Duration) bool {
	return t.Token != "" && t.ExpiresAt.After(now.Add(margin))
}

var validate = validator.New()

func validateResponse(v any) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", e.Field(), e.Tag()))
			}
			return fmt.Errorf("invalid response: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
