package model

import (
	"strings"
	"time"
)

// ExpiryLayout is the timestamp format used in the registry file.
const ExpiryLayout = "2006-01-02 15:04:05"

// BytesPerGB converts quota gigabytes to bytes.
const BytesPerGB = 1 << 30

type ClientRecord struct {
	Username   string    `json:"username"`
	QuotaGB    float64   `json:"quota_gb"`
	UsedBytes  int64     `json:"used_bytes"`
	Expiry     time.Time `json:"expiry"`
	Protocol   Protocol  `json:"protocol"`
	Transport  Transport `json:"transport,omitempty"`
	Status     Status    `json:"status"`
	Credential string    `json:"credential"`
}

// Tag renders the registry protocol field, e.g. VLESS-WS-EXPIRED.
func (r ClientRecord) Tag() string {
	return FormatTag(r.Protocol, r.Transport, r.Status)
}

// InboundTag is the tag of the Xray inbound this record belongs to.
func (r ClientRecord) InboundTag() string {
	return InboundTag(r.Protocol, r.Transport)
}

func (r ClientRecord) Enabled() bool {
	return r.Status == StatusActive
}

func (r ClientRecord) QuotaBytes() int64 {
	if r.QuotaGB <= 0 {
		return 0
	}
	return int64(r.QuotaGB * BytesPerGB)
}

// InboundTag builds lowercase(protocol)[-lowercase(transport)].
func InboundTag(p Protocol, t Transport) string {
	if t == TransportNone {
		return strings.ToLower(string(p))
	}
	return strings.ToLower(string(p)) + "-" + strings.ToLower(string(t))
}

// ClientStatus is a registry row enriched for display.
type ClientStatus struct {
	ClientRecord
	TotalBytes int64   `json:"total_bytes"`
	Percent    float64 `json:"percent"`
	DaysLeft   int     `json:"days_left"`
	IsExpired  bool    `json:"is_expired"`
	Online     bool    `json:"probable_online"`
	Link       string  `json:"link"`
}

type UserUsage struct {
	Username string `json:"username"`
	Uplink   int64  `json:"uplink"`
	Downlink int64  `json:"downlink"`
}

func (u UserUsage) Total() int64 {
	return u.Uplink + u.Downlink
}

// SystemSnapshot is the dashboard view of the host.
type SystemSnapshot struct {
	ServerTime        time.Time `json:"server_time"`
	Hostname          string    `json:"hostname,omitempty"`
	CPUPercent        *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent     *float64  `json:"memory_percent,omitempty"`
	UptimeSec         uint64    `json:"uptime_sec,omitempty"`
	BandwidthDownMbps *float64  `json:"bandwidth_down_mbps,omitempty"`
	BandwidthUpMbps   *float64  `json:"bandwidth_up_mbps,omitempty"`
	ProxyActive       bool      `json:"proxy_active"`
	Users             int       `json:"users"`
	Online            int       `json:"online"`
	TotalBytes        int64     `json:"total_bytes"`
}
