// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeText_ValidUTF8Unchanged(t *testing.T) {
	in := "hello, мир! 你好"
	assert.Equal(t, in, NormalizeText(in))
}

func TestNormalizeText_RepairsInvalidBytes(t *testing.T) {
	in := "abc\xff\xfedef"
	out := NormalizeText(in)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "def")
}

func TestNormalizeText_AppliesNFC(t *testing.T) {
	// "é" as e + combining acute accent should compose to a single rune.
	decomposed := "é"
	out := NormalizeText(decomposed)
	assert.Equal(t, "é", out)
}

func TestNormalizeText_Empty(t *testing.T) {
	assert.Equal(t, "", NormalizeText(""))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", TruncateRunes("short", 10))
	assert.Equal(t, "he...", TruncateRunes("hello world", 5))
	assert.Equal(t, "", TruncateRunes("anything", 0))
	// Rune-aware: must not split multi-byte characters.
	out := TruncateRunes("привет мир", 6)
	assert.True(t, utf8.ValidString(out))
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// Overwrite replaces content atomically.
	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0600))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
