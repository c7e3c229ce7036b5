package xray

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/najahiiii/xray-panel/internal/model"

	"github.com/tidwall/jsonc"
)

// FlowVision is the flow every VLESS-XTLS client carries.
const FlowVision = "xtls-rprx-vision"

// Document is a parsed Xray config. Only inbound client lists are touched;
// every other field is carried through as decoded.
type Document struct {
	root map[string]any
}

// ParseDocument accepts plain JSON or JSON with comments and trailing commas.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parse xray config: %w", err)
	}
	if _, ok := root["inbounds"].([]any); !ok {
		return nil, errors.New("invalid xray config: inbounds missing")
	}
	return &Document{root: root}, nil
}

// Bytes encodes deterministically: same document, same bytes.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) inbounds() []map[string]any {
	list, _ := d.root["inbounds"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, ib := range list {
		if m, ok := ib.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (d *Document) findInbound(tag string) map[string]any {
	for _, ib := range d.inbounds() {
		if t, _ := ib["tag"].(string); strings.EqualFold(t, tag) {
			return ib
		}
	}
	return nil
}

// InboundTags lists inbound tags in document order.
func (d *Document) InboundTags() []string {
	var tags []string
	for _, ib := range d.inbounds() {
		if t, _ := ib["tag"].(string); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// Clients returns the client objects of the inbound with tag, nil if none.
func (d *Document) Clients(tag string) []map[string]any {
	ib := d.findInbound(tag)
	if ib == nil {
		return nil
	}
	return clientMaps(ib)
}

// FullRebuild empties every client list, then adds one entry per enabled
// record whose inbound exists. Records without an inbound are dropped here
// and left untouched in the registry.
func (d *Document) FullRebuild(records []model.ClientRecord) {
	for _, ib := range d.inbounds() {
		settings, _ := ib["settings"].(map[string]any)
		if settings == nil {
			continue
		}
		if _, ok := settings["clients"]; ok {
			settings["clients"] = []any{}
		}
	}
	for _, r := range records {
		if !r.Enabled() {
			continue
		}
		if ib := d.findInbound(r.InboundTag()); ib != nil {
			appendClient(ib, clientEntry(r))
		}
	}
}

// ApplyCreate adds r to its inbound. If the inbound already holds an entry
// for the same email it is updated instead, keeping one entry per client.
func (d *Document) ApplyCreate(r model.ClientRecord) error {
	ib := d.findInbound(r.InboundTag())
	if ib == nil {
		return fmt.Errorf("%s: %w", r.InboundTag(), model.ErrInboundNotFound)
	}
	for _, c := range clientMaps(ib) {
		if c["email"] == r.Username {
			setCredential(c, r.Credential)
			return nil
		}
	}
	appendClient(ib, clientEntry(r))
	return nil
}

// ApplyEdit updates the credential of every entry labelled username. With no
// live entry the edit is a late registration and follows ApplyCreate.
func (d *Document) ApplyEdit(username string, r model.ClientRecord) error {
	found := false
	for _, ib := range d.inbounds() {
		for _, c := range clientMaps(ib) {
			if c["email"] == username {
				setCredential(c, r.Credential)
				found = true
			}
		}
	}
	if found {
		return nil
	}
	r.Username = username
	return d.ApplyCreate(r)
}

// ApplyDelete removes username from every inbound and reports whether
// anything was removed.
func (d *Document) ApplyDelete(username string) bool {
	removed := false
	for _, ib := range d.inbounds() {
		settings, _ := ib["settings"].(map[string]any)
		list, ok := settings["clients"].([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(list))
		for _, c := range list {
			if m, ok := c.(map[string]any); ok && m["email"] == username {
				removed = true
				continue
			}
			kept = append(kept, c)
		}
		settings["clients"] = kept
	}
	return removed
}

func clientEntry(r model.ClientRecord) map[string]any {
	entry := map[string]any{"email": r.Username}
	if r.Protocol == model.ProtocolTROJAN {
		entry["password"] = r.Credential
		return entry
	}
	entry["id"] = r.Credential
	if r.Protocol == model.ProtocolVLESS && r.Transport == model.TransportXTLS {
		entry["flow"] = FlowVision
	}
	return entry
}

func setCredential(c map[string]any, cred string) {
	if _, ok := c["id"]; ok {
		c["id"] = cred
	}
	if _, ok := c["password"]; ok {
		c["password"] = cred
	}
}

func appendClient(ib map[string]any, entry map[string]any) {
	settings, _ := ib["settings"].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
		ib["settings"] = settings
	}
	list, _ := settings["clients"].([]any)
	settings["clients"] = append(list, entry)
}

func clientMaps(ib map[string]any) []map[string]any {
	settings, _ := ib["settings"].(map[string]any)
	list, _ := settings["clients"].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, c := range list {
		if m, ok := c.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
