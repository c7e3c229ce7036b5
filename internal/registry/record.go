package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"
)

const fieldCount = 6

// FormatRecord renders one registry row without the trailing newline.
func FormatRecord(r model.ClientRecord) string {
	return strings.Join([]string{
		r.Username,
		strconv.FormatFloat(r.QuotaGB, 'f', -1, 64),
		strconv.FormatInt(r.UsedBytes, 10),
		r.Expiry.Format(model.ExpiryLayout),
		r.Tag(),
		r.Credential,
	}, ";")
}

// ParseRecord parses one row. Only a short row is an error; bad numbers
// become zero and a bad date becomes now.
func ParseRecord(line string, now time.Time) (model.ClientRecord, error) {
	parts := strings.Split(strings.TrimRight(line, "\r\n"), ";")
	if len(parts) < fieldCount {
		return model.ClientRecord{}, fmt.Errorf("%w: %d fields", model.ErrMalformedRecord, len(parts))
	}

	quota, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || quota < 0 {
		quota = 0
	}
	expiry, err := time.ParseInLocation(model.ExpiryLayout, strings.TrimSpace(parts[3]), time.Local)
	if err != nil {
		expiry = now
	}
	proto, trans, status := model.ParseTag(parts[4])

	return model.ClientRecord{
		Username:   parts[0],
		QuotaGB:    quota,
		UsedBytes:  parseUsed(parts[2]),
		Expiry:     expiry,
		Protocol:   proto,
		Transport:  trans,
		Status:     status,
		Credential: strings.TrimSpace(parts[5]),
	}, nil
}

// parseUsed accepts "1234" and the "%.0f"/"%.2f" forms older writers produced.
func parseUsed(s string) int64 {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil && v >= 0 {
		return v
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int64(f)
	}
	return 0
}

func usernameOf(line string) string {
	name, _, _ := strings.Cut(line, ";")
	return name
}
