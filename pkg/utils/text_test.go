package utils

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("abcdef", 2); got != "ab" {
		t.Errorf("tiny maxLen: got %q", got)
	}
}

func TestTruncate_runeSafe(t *testing.T) {
	s := "検索拡張生成はとても便利です"
	got := Truncate(s, 8)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid utf-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 8 {
		t.Errorf("rune count = %d, want 8", n)
	}
}

func TestWordCount(t *testing.T) {
	if n := WordCount("  one two\tthree\n"); n != 3 {
		t.Errorf("got %d", n)
	}
	if n := WordCount(""); n != 0 {
		t.Errorf("got %d", n)
	}
}
