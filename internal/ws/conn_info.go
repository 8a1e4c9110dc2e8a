package ws

import "time"

// ConnInfo describes the identity and origin of a live connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DisplayName string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) identity() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   i.UserID,
		"device_id": i.DeviceID,
		"ip":        i.IP,
	}
}
