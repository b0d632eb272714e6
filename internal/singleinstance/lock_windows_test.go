//go:build windows

package singleinstance

import (
	"strings"
	"testing"
)

func lockNameForTest(_ *testing.T, base string) string {
	return `Local\` + base
}

func containsUser(name, user string) bool {
	return strings.HasPrefix(name, `Local\dispatch-`) && strings.HasSuffix(name, user)
}
