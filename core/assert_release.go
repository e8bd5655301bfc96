//go:build !linewatchdebug

package core

const debugAssertions = false
