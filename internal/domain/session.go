package domain

import "time"

// Session end reasons.
const (
	SessionEndReplaced      = "replaced"
	SessionEndLogout        = "logout"
	SessionEndRevoked       = "revoked"
	SessionEndPasswordReset = "password_reset"
)

// Login types recorded on a session.
const (
	LoginTypeOTP   = "otp"
	LoginTypeAdmin = "admin_password"
)

// Session is one logical login. Token matches User.CurrentSessionID while active.
type Session struct {
	SessionID         string     `json:"id" dynamodbav:"session_id"`
	Token             string     `json:"-" dynamodbav:"token"`
	UserID            string     `json:"user_id" dynamodbav:"user_id"`
	LoginType         string     `json:"login_type" dynamodbav:"login_type"`
	IPAddress         string     `json:"ip_address,omitempty" dynamodbav:"ip_address,omitempty"`
	LastSeenIPAddress string     `json:"last_seen_ip_address,omitempty" dynamodbav:"last_seen_ip_address,omitempty"`
	UserAgent         string     `json:"user_agent,omitempty" dynamodbav:"user_agent,omitempty"`
	DeviceSignature   string     `json:"-" dynamodbav:"device_signature,omitempty"`
	DeviceName        string     `json:"device_name" dynamodbav:"device_name"`
	IsActive          bool       `json:"is_active" dynamodbav:"is_active"`
	TerminatedBy      string     `json:"terminated_by,omitempty" dynamodbav:"terminated_by,omitempty"`
	CreatedAt         time.Time  `json:"created" dynamodbav:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen" dynamodbav:"last_seen_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty" dynamodbav:"ended_at,omitempty"`
}

// ClientInfo is what the transport layer knows about the caller.
type ClientInfo struct {
	IP        string
	UserAgent string
}
