package indexengine

import "testing"

func TestIsBinaryContentDetectsNulByte(t *testing.T) {
	if isBinaryContent([]byte("plain text, no nulls here")) {
		t.Error("expected plain text to not be classified as binary")
	}
	if !isBinaryContent([]byte("abc\x00def")) {
		t.Error("expected content with a NUL byte to be classified as binary")
	}
}

func TestIsBinaryContentOnlyChecksFirst512Bytes(t *testing.T) {
	content := make([]byte, 600)
	for i := range content {
		content[i] = 'a'
	}
	content[550] = 0 // beyond the 512-byte sniff window
	if isBinaryContent(content) {
		t.Error("expected a NUL beyond the sniff window to be ignored")
	}
}

func TestHashContentIsDeterministic(t *testing.T) {
	a := hashContent([]byte("hello"))
	b := hashContent([]byte("hello"))
	c := hashContent([]byte("world"))
	if a != b {
		t.Error("expected identical content to hash identically")
	}
	if a == c {
		t.Error("expected different content to hash differently")
	}
}
