package devicepair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Monitor receives pairing lifecycle events, e.g. for auditing or metrics.
type Monitor interface {
	AuditRegistered(ctx context.Context, deviceID string)
	AuditLinked(ctx context.Context, deviceID string)
	AuditRefreshed(ctx context.Context)
	AuditRefreshFailed(ctx context.Context, reason string)
	AuditTokenCleared(ctx context.Context)
}

// NoopMonitor is a monitor that does nothing
type NoopMonitor struct{}

func (n *NoopMonitor) AuditRegistered(ctx context.Context, deviceID string)  {}
func (n *NoopMonitor) AuditLinked(ctx context.Context, deviceID string)      {}
func (n *NoopMonitor) AuditRefreshed(ctx context.Context)                    {}
func (n *NoopMonitor) AuditRefreshFailed(ctx context.Context, reason string) {}
func (n *NoopMonitor) AuditTokenCleared(ctx context.Context)                 {}

var _ Monitor = &NoopMonitor{}

// LoggerMonitor logs events. Device IDs are hashed before they are logged.
type LoggerMonitor struct {
	logger *slog.Logger
}

func NewLoggerMonitor(logger *slog.Logger) *LoggerMonitor {
	return &LoggerMonitor{
		logger: logger,
	}
}

func (l *LoggerMonitor) hashDeviceID(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:8])
}

func (l *LoggerMonitor) AuditRegistered(ctx context.Context, deviceID string) {
	l.logger.InfoContext(ctx, "device registered", "device", l.hashDeviceID(deviceID))
}

func (l *LoggerMonitor) AuditLinked(ctx context.Context, deviceID string) {
	l.logger.InfoContext(ctx, "device linked", "device", l.hashDeviceID(deviceID))
}

func (l *LoggerMonitor) AuditRefreshed(ctx context.Context) {
	l.logger.InfoContext(ctx, "device token refreshed")
}

func (l *LoggerMonitor) AuditRefreshFailed(ctx context.Context, reason string) {
	l.logger.WarnContext(ctx, "device token refresh failed", "reason", reason)
}

func (l *LoggerMonitor) AuditTokenCleared(ctx context.Context) {
	l.logger.InfoContext(ctx, "device token cleared")
}

var _ Monitor = (*LoggerMonitor)(nil)
