//go:build !windows

package snapshot

const lineSeparator = "\n"
