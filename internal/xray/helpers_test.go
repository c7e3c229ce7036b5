package xray

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"
)

const sampleConfig = `{
  // managed by xray-panel
  "log": {"access": "/var/log/xray/access.log", "loglevel": "warning"},
  "inbounds": [
    {"tag": "api", "port": 10085, "protocol": "dokodemo-door", "settings": {"address": "127.0.0.1"}},
    {"tag": "vless-ws", "port": 10001, "protocol": "vless", "settings": {"clients": [], "decryption": "none"}},
    {"tag": "vless-xtls", "port": 443, "protocol": "vless", "settings": {"clients": [{"id": "stale", "email": "ghost"}], "decryption": "none"}},
    {"tag": "trojan-grpc", "port": 10002, "protocol": "trojan", "settings": {"clients": []}},
    {"tag": "vmess-ws", "port": 10003, "protocol": "vmess", "settings": {"clients": []},},
  ],
  "outbounds": [{"protocol": "freedom", "tag": "direct"}]
}`

func rec(name string, p model.Protocol, t model.Transport, s model.Status) model.ClientRecord {
	return model.ClientRecord{
		Username:   name,
		QuotaGB:    10,
		Expiry:     time.Now().Add(24 * time.Hour),
		Protocol:   p,
		Transport:  t,
		Status:     s,
		Credential: "cred-" + name,
	}
}

type fakeService struct {
	mu       sync.Mutex
	restarts int
	failN    int
	active   bool
}

func (f *fakeService) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	if f.failN > 0 {
		f.failN--
		return errors.New("unit failed")
	}
	return nil
}

func (f *fakeService) IsActive(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}
