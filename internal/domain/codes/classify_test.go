package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := Classifier{MasterPrefix: "CASE-", TrackingSegments: []string{"/q/", "/t/"}}

	tests := []struct {
		name string
		raw  string
		code string
		kind Kind
	}{
		{"master", "CASE-001", "CASE-001", KindMaster},
		{"unique", "U-1", "U-1", KindUnique},
		{"whitespace", "  CASE-001\n", "CASE-001", KindMaster},
		{"tracking link", "https://track.example.com/q/CASE-001", "CASE-001", KindMaster},
		{"tracking link with query", "https://track.example.com/t/U-7?src=scan#x", "U-7", KindUnique},
		{"trailing slash", "https://track.example.com/q/U-7/", "U-7", KindUnique},
		{"nested segments", "https://x/q/redirect/t/CASE-9", "CASE-9", KindMaster},
		{"bare prefix", "CASE-", "CASE-", KindUnknown},
		{"empty", "   ", "", KindUnknown},
		{"garbage", "hello world", "hello world", KindUnknown},
		{"link without code", "https://track.example.com/q/", "", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, kind := c.Classify(tt.raw)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := Classifier{MasterPrefix: "CASE-", TrackingSegments: []string{"/q/"}}
	for _, raw := range []string{"CASE-001", "https://h/q/CASE-002?x=1", "U-5", " u.6 ", "bad code"} {
		code, kind := c.Classify(raw)
		again, kind2 := c.Classify(code)
		assert.Equal(t, code, again, raw)
		assert.Equal(t, kind, kind2, raw)
	}
}

func TestClassifyUniquePrefix(t *testing.T) {
	c := Classifier{MasterPrefix: "CASE-", UniquePrefix: "U-"}

	_, kind := c.Classify("U-10")
	assert.Equal(t, KindUnique, kind)

	_, kind = c.Classify("X-10")
	assert.Equal(t, KindUnknown, kind)
}
