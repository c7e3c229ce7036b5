package xray

import (
	"bytes"
	"errors"
	"testing"

	"github.com/najahiiii/xray-panel/internal/model"
)

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseDocument([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	return doc
}

func TestParseDocumentRejectsMissingInbounds(t *testing.T) {
	if _, err := ParseDocument([]byte(`{"log": {}}`)); err == nil {
		t.Fatal("expected error without inbounds")
	}
}

func TestFullRebuild(t *testing.T) {
	doc := mustParse(t)
	doc.FullRebuild([]model.ClientRecord{
		rec("alice", model.ProtocolVLESS, model.TransportWS, model.StatusActive),
		rec("bob", model.ProtocolVLESS, model.TransportXTLS, model.StatusActive),
		rec("carol", model.ProtocolTROJAN, model.TransportGRPC, model.StatusActive),
		rec("dave", model.ProtocolVMESS, model.TransportWS, model.StatusExpired),
		rec("erin", model.ProtocolVLESS, model.TransportWS, model.StatusDisabled),
		rec("frank", model.ProtocolVMESS, model.TransportGRPC, model.StatusActive), // no inbound
	})

	ws := doc.Clients("vless-ws")
	if len(ws) != 1 || ws[0]["email"] != "alice" || ws[0]["id"] != "cred-alice" {
		t.Fatalf("vless-ws clients: %v", ws)
	}
	if _, ok := ws[0]["flow"]; ok {
		t.Fatal("vless-ws must not carry flow")
	}
	xtls := doc.Clients("vless-xtls")
	if len(xtls) != 1 || xtls[0]["email"] != "bob" || xtls[0]["flow"] != FlowVision {
		t.Fatalf("vless-xtls clients: %v", xtls)
	}
	tr := doc.Clients("trojan-grpc")
	if len(tr) != 1 || tr[0]["password"] != "cred-carol" {
		t.Fatalf("trojan clients: %v", tr)
	}
	if _, ok := tr[0]["id"]; ok {
		t.Fatal("trojan entry must not carry id")
	}
	if got := doc.Clients("vmess-ws"); len(got) != 0 {
		t.Fatalf("expired record projected: %v", got)
	}
	if got := doc.Clients("api"); got != nil && len(got) != 0 {
		t.Fatalf("api inbound gained clients: %v", got)
	}
}

func TestFullRebuildIdempotent(t *testing.T) {
	records := []model.ClientRecord{
		rec("alice", model.ProtocolVLESS, model.TransportWS, model.StatusActive),
		rec("bob", model.ProtocolTROJAN, model.TransportGRPC, model.StatusActive),
	}
	doc := mustParse(t)
	doc.FullRebuild(records)
	first, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	doc.FullRebuild(records)
	second, _ := doc.Bytes()
	if !bytes.Equal(first, second) {
		t.Fatal("second rebuild changed the document")
	}

	reparsed, err := ParseDocument(first)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	reparsed.FullRebuild(records)
	third, _ := reparsed.Bytes()
	if !bytes.Equal(first, third) {
		t.Fatal("rebuild of reparsed document differs")
	}
}

func TestFullRebuildEmptyRegistry(t *testing.T) {
	doc := mustParse(t)
	doc.FullRebuild(nil)
	for _, tag := range doc.InboundTags() {
		if n := len(doc.Clients(tag)); n != 0 {
			t.Fatalf("inbound %s still has %d clients", tag, n)
		}
	}
}

func TestApplyCreate(t *testing.T) {
	doc := mustParse(t)
	if err := doc.ApplyCreate(rec("alice", model.ProtocolVLESS, model.TransportWS, model.StatusActive)); err != nil {
		t.Fatalf("ApplyCreate: %v", err)
	}
	if got := doc.Clients("vless-ws"); len(got) != 1 {
		t.Fatalf("vless-ws clients: %v", got)
	}
	if got := doc.Clients("vless-xtls"); len(got) != 1 || got[0]["email"] != "ghost" {
		t.Fatalf("other inbound touched: %v", got)
	}

	err := doc.ApplyCreate(rec("zed", model.ProtocolTROJAN, model.TransportWS, model.StatusActive))
	if !errors.Is(err, model.ErrInboundNotFound) {
		t.Fatalf("expected inbound not found, got %v", err)
	}

	// a second create for the same email keeps a single entry
	again := rec("alice", model.ProtocolVLESS, model.TransportWS, model.StatusActive)
	again.Credential = "rotated"
	if err := doc.ApplyCreate(again); err != nil {
		t.Fatalf("ApplyCreate again: %v", err)
	}
	if got := doc.Clients("vless-ws"); len(got) != 1 || got[0]["id"] != "rotated" {
		t.Fatalf("duplicate create: %v", got)
	}
}

func TestApplyEdit(t *testing.T) {
	doc := mustParse(t)
	r := rec("ghost", model.ProtocolVLESS, model.TransportXTLS, model.StatusActive)
	r.Credential = "fresh"
	if err := doc.ApplyEdit("ghost", r); err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	got := doc.Clients("vless-xtls")
	if len(got) != 1 || got[0]["id"] != "fresh" {
		t.Fatalf("edit in place: %v", got)
	}

	late := rec("newbie", model.ProtocolTROJAN, model.TransportGRPC, model.StatusActive)
	if err := doc.ApplyEdit("newbie", late); err != nil {
		t.Fatalf("ApplyEdit late registration: %v", err)
	}
	if got := doc.Clients("trojan-grpc"); len(got) != 1 || got[0]["password"] != "cred-newbie" {
		t.Fatalf("late registration: %v", got)
	}
}

func TestApplyDeleteIdempotent(t *testing.T) {
	doc := mustParse(t)
	if !doc.ApplyDelete("ghost") {
		t.Fatal("expected ghost removed")
	}
	if doc.ApplyDelete("ghost") {
		t.Fatal("second delete reported a change")
	}
	if got := doc.Clients("vless-xtls"); len(got) != 0 {
		t.Fatalf("ghost still present: %v", got)
	}
}

func TestBytesKeepsUnknownFields(t *testing.T) {
	doc := mustParse(t)
	out, err := doc.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	for _, want := range []string{`"loglevel": "warning"`, `"port": 10085`, `"decryption": "none"`, `"protocol": "freedom"`} {
		if !bytes.Contains(out, []byte(want)) {
			t.Fatalf("encoded config lost %s:\n%s", want, out)
		}
	}
}
