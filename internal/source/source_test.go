package source_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/localclaw/internal/source"
)

func TestErrorClassification(t *testing.T) {
	auth := fmt.Errorf("posting comment: %w", &source.AuthError{Channel: "issues", Message: "401"})
	transient := &source.TransientError{Op: "fetch", Err: errors.New("timeout")}
	malformed := &source.MalformedResponseError{Op: "decode", Err: errors.New("bad json")}

	assert.True(t, source.IsAuthError(auth))
	assert.False(t, source.IsAuthError(transient))
	assert.True(t, source.IsTransient(transient))
	assert.False(t, source.IsTransient(auth))
	assert.True(t, source.IsMalformed(malformed))
	assert.Contains(t, auth.Error(), "auth error (issues)")
}

func TestHealthRecordsLastResult(t *testing.T) {
	var h source.Health
	assert.Equal(t, source.StatusOK, h.Status())

	h.Record(errors.New("down"))
	assert.Equal(t, source.StatusError, h.Status())

	h.Record(nil)
	assert.Equal(t, source.StatusOK, h.Status())
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "just text", "just text"},
		{"entities", "<p>Tom &amp; Jerry&nbsp;&lt;3</p>", "Tom & Jerry <3"},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\n\nWorld"},
		{"script dropped", "<div>a<script>alert(1)</script>b</div>", "ab"},
		{"line break", "one<br>two", "one\ntwo"},
		{"inline spacing", "<span>a</span><span>b</span>", "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, source.HTMLToText(tt.in))
		})
	}
}
