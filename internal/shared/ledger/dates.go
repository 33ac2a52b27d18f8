package ledger

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 账务系统遗留的数值时间戳编码: /Date(1672531200000+0000)/
var legacyDatePattern = regexp.MustCompile(`^/Date\((-?\d+)(?:([+-])(\d{4}))?\)/$`)

// ParseDate 统一解析账务系统返回的日期字符串
// 依次尝试：遗留 /Date(ms±zone)/ 编码 → RFC3339 → 纯日期；均失败返回nil，从不panic/报错
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := legacyDatePattern.FindStringSubmatch(raw); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms).UTC()
		if m[2] != "" {
			offset, err := strconv.Atoi(m[3])
			if err == nil {
				seconds := (offset/100)*3600 + (offset%100)*60
				if m[2] == "-" {
					seconds = -seconds
				}
				t = t.In(time.FixedZone("", seconds))
			}
		}
		return &t
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t
	}
	return nil
}
