package backup

import (
	"bytes"
	"errors"
	"testing"

	"github.com/najahiiii/xray-panel/internal/model"

	"github.com/klauspost/compress/zip"
)

func rawZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
		w.Write([]byte("alice;10;0;2030-01-01 00:00:00;VLESS-WS;U1\n"))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

func TestWriteRead(t *testing.T) {
	var buf bytes.Buffer
	in := Archive{
		Clients:  []byte("alice;10;0;2030-01-01 00:00:00;VLESS-WS;U1\n"),
		Inbounds: []byte("x;VLESS-WS\n"),
	}
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(out.Clients, in.Clients) || !bytes.Equal(out.Inbounds, in.Inbounds) {
		t.Fatalf("archive changed: %+v", out)
	}
}

func TestReadOptionalInbounds(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Archive{Clients: []byte{}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out.Inbounds != nil {
		t.Fatalf("unexpected inbounds: %q", out.Inbounds)
	}
	if out.Clients == nil {
		t.Fatal("empty clients.db should still be present")
	}
}

func TestReadRejectsUnsafeEntries(t *testing.T) {
	cases := map[string][]byte{
		"traversal":     rawZip(t, ClientsName, "../../etc/passwd"),
		"nested":        rawZip(t, "backup/clients.db"),
		"absolute":      rawZip(t, "/etc/xray/clients.db"),
		"missing":       rawZip(t, InboundsName),
		"not a zip":     []byte("plain text"),
		"extra payload": rawZip(t, ClientsName, InboundsName, "config.json"),
	}
	for name, data := range cases {
		if _, err := Read(data); !errors.Is(err, model.ErrUnsafeArchive) {
			t.Fatalf("%s: expected unsafe archive, got %v", name, err)
		}
	}
}
