package devicepair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

// GetOrCreateInstallIdentity returns the per-install identity, generating and
// persisting a random one on first use. An existing identity is never replaced.
// The identity only ever leaves the process hashed inside a fingerprint.
func (c *Client) GetOrCreateInstallIdentity(ctx context.Context) (string, error) {
	c.storeMu.Lock()
	defer c.storeMu.Unlock()

	return c.installIdentity(ctx)
}

func (c *Client) installIdentity(ctx context.Context) (string, error) {
	var id string
	ok, err := c.loadJSON(ctx, KeyInstallIdentity, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := c.saveJSON(ctx, KeyInstallIdentity, id); err != nil {
		return "", err
	}
	c.logger().Debug("created install identity")
	return id, nil
}

// ComputeFingerprint hashes the install identity together with the coarse
// browser label, so a browser major-version bump yields a new fingerprint.
func (c *Client) ComputeFingerprint(ctx context.Context) (string, error) {
	id, err := c.GetOrCreateInstallIdentity(ctx)
	if err != nil {
		return "", err
	}
	return Fingerprint(id, BrowserLabel(c.config.UserAgent)), nil
}

// Fingerprint returns hex(sha256(identity + "|" + label)).
func Fingerprint(identity, label string) string {
	sum := sha256.Sum256([]byte(identity + "|" + label))
	return hex.EncodeToString(sum[:])
}

var browserPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	// Edge and Opera user agents also carry Chrome/, so they go first.
	{"Edge", regexp.MustCompile(`Edg(?:e|A|iOS)?/(\d+)`)},
	{"Opera", regexp.MustCompile(`OPR/(\d+)`)},
	{"Firefox", regexp.MustCompile(`Firefox/(\d+)`)},
	{"Chrome", regexp.MustCompile(`Chrome/(\d+)`)},
	{"Safari", regexp.MustCompile(`Version/(\d+)[.\d]* .*Safari/`)},
}

// BrowserLabel reduces a user agent to "<Browser><major>", e.g. "Chrome123".
// Unrecognized agents get the generic label "Browser".
func BrowserLabel(userAgent string) string {
	for _, p := range browserPatterns {
		if m := p.re.FindStringSubmatch(userAgent); m != nil {
			return p.name + m[1]
		}
	}
	return "Browser"
}
