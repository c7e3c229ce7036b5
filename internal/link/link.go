// Package link renders and parses client share URIs.
package link

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/najahiiii/xray-panel/internal/model"

	json "github.com/goccy/go-json"
)

// Invalid is returned for combinations that have no share link.
const Invalid = "#"

const port = "443"

type Params struct {
	Username   string
	Credential string
	Protocol   model.Protocol
	Transport  model.Transport
	Domain     string
}

// vmessJSON field order is the order clients expect in the payload.
type vmessJSON struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port string `json:"port"`
	ID   string `json:"id"`
	Aid  string `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
	ALPN string `json:"alpn"`
}

// ForRecord builds the link for a registry row.
func ForRecord(r model.ClientRecord, domain string) string {
	return Encode(Params{
		Username:   r.Username,
		Credential: r.Credential,
		Protocol:   r.Protocol,
		Transport:  r.Transport,
		Domain:     domain,
	})
}

// Encode never fails; unsupported combinations yield Invalid.
func Encode(p Params) string {
	d, c, u := p.Domain, p.Credential, p.Username
	switch p.Protocol {
	case model.ProtocolVLESS:
		base := "vless://" + c + "@" + d + ":" + port + "?security=tls&encryption=none"
		switch p.Transport {
		case model.TransportXTLS:
			return base + "&flow=xtls-rprx-vision&type=tcp&sni=" + d + "&alpn=h2,http/1.1#" + u
		case model.TransportWS:
			return base + "&type=ws&path=%2Fvless-ws&host=" + d + "&sni=" + d + "&alpn=h2,http/1.1#" + u
		case model.TransportGRPC:
			return base + "&type=grpc&serviceName=vless-grpc&mode=multi&sni=" + d + "&alpn=h2#" + u
		}
	case model.ProtocolTROJAN:
		base := "trojan://" + c + "@" + d + ":" + port + "?security=tls"
		switch p.Transport {
		case model.TransportWS:
			return base + "&type=ws&path=%2Ftrojan-ws&host=" + d + "&sni=" + d + "&alpn=h2,http/1.1#" + u
		case model.TransportGRPC:
			return base + "&type=grpc&serviceName=trojan-grpc&mode=multi&sni=" + d + "&alpn=h2#" + u
		}
	case model.ProtocolVMESS:
		v := vmessJSON{
			V: "2", PS: u, Add: d, Port: port, ID: c, Aid: "0", Scy: "auto",
			Type: "none", Host: d, TLS: "tls", SNI: d,
		}
		switch p.Transport {
		case model.TransportWS:
			v.Net, v.Path, v.ALPN = "ws", "/vmess-ws", "h2,http/1.1"
		case model.TransportGRPC:
			v.Net, v.Path, v.ALPN = "grpc", "vmess-grpc", "h2"
		default:
			return Invalid
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Invalid
		}
		return "vmess://" + base64.StdEncoding.EncodeToString(raw)
	}
	return Invalid
}

var errInvalidLink = errors.New("invalid share link")

// Decode recovers the parameters Encode was called with.
func Decode(uri string) (Params, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Params{}, errInvalidLink
	}
	if strings.EqualFold(scheme, "vmess") {
		return decodeVMess(rest)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %w", errInvalidLink, err)
	}
	p := Params{
		Username:   u.Fragment,
		Credential: u.User.Username(),
		Domain:     u.Hostname(),
	}
	q := u.Query()
	switch strings.ToLower(u.Scheme) {
	case "vless":
		p.Protocol = model.ProtocolVLESS
	case "trojan":
		p.Protocol = model.ProtocolTROJAN
	default:
		return Params{}, fmt.Errorf("%w: scheme %q", errInvalidLink, u.Scheme)
	}
	switch {
	case q.Get("flow") != "":
		p.Transport = model.TransportXTLS
	case q.Get("type") == "ws":
		p.Transport = model.TransportWS
	case q.Get("type") == "grpc":
		p.Transport = model.TransportGRPC
	default:
		return Params{}, fmt.Errorf("%w: transport %q", errInvalidLink, q.Get("type"))
	}
	if !model.Supported(p.Protocol, p.Transport) {
		return Params{}, fmt.Errorf("%w: %s-%s", model.ErrUnsupported, p.Protocol, p.Transport)
	}
	return p, nil
}

func decodeVMess(payload string) (Params, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Params{}, fmt.Errorf("%w: %w", errInvalidLink, err)
	}
	var v vmessJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return Params{}, fmt.Errorf("%w: %w", errInvalidLink, err)
	}
	p := Params{
		Username:   v.PS,
		Credential: v.ID,
		Protocol:   model.ProtocolVMESS,
		Domain:     v.Add,
	}
	switch v.Net {
	case "ws":
		p.Transport = model.TransportWS
	case "grpc":
		p.Transport = model.TransportGRPC
	default:
		return Params{}, fmt.Errorf("%w: net %q", errInvalidLink, v.Net)
	}
	return p, nil
}
