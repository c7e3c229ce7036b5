package model

import "strings"

type Protocol string

const (
	ProtocolVLESS  Protocol = "VLESS"
	ProtocolVMESS  Protocol = "VMESS"
	ProtocolTROJAN Protocol = "TROJAN"
)

type Transport string

const (
	TransportNone Transport = ""
	TransportWS   Transport = "WS"
	TransportGRPC Transport = "GRPC"
	TransportXTLS Transport = "XTLS"
)

// Status replaces the -EXPIRED/-DISABLED suffix of the registry tag.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

const (
	suffixExpired  = "-EXPIRED"
	suffixDisabled = "-DISABLED"
)

// ParseTag splits a registry tag such as "VLESS-XTLS-DISABLED". Matching is
// case-insensitive and the parts come back upper-cased, so a rewritten row
// always carries the canonical form. Unknown protocol or transport names
// pass through, upper-cased, rather than being dropped.
func ParseTag(tag string) (Protocol, Transport, Status) {
	status := StatusActive
	upper := strings.ToUpper(strings.TrimSpace(tag))
	switch {
	case strings.HasSuffix(upper, suffixExpired):
		status = StatusExpired
		upper = strings.TrimSuffix(upper, suffixExpired)
	case strings.HasSuffix(upper, suffixDisabled):
		status = StatusDisabled
		upper = strings.TrimSuffix(upper, suffixDisabled)
	}
	proto, trans, _ := strings.Cut(upper, "-")
	return Protocol(proto), Transport(trans), status
}

func FormatTag(p Protocol, t Transport, s Status) string {
	tag := string(p)
	if t != TransportNone {
		tag += "-" + string(t)
	}
	switch s {
	case StatusExpired:
		tag += suffixExpired
	case StatusDisabled:
		tag += suffixDisabled
	}
	return tag
}

// Supported reports whether the combination has an inbound and a share link.
func Supported(p Protocol, t Transport) bool {
	switch p {
	case ProtocolVLESS:
		return t == TransportWS || t == TransportGRPC || t == TransportXTLS
	case ProtocolVMESS, ProtocolTROJAN:
		return t == TransportWS || t == TransportGRPC
	}
	return false
}

func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, true
	case StatusExpired:
		return StatusExpired, true
	case StatusDisabled:
		return StatusDisabled, true
	}
	return "", false
}
