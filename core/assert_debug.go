//go:build linewatchdebug

package core

// debugAssertions turns programming errors (foreign or stale handles) into panics.
const debugAssertions = true
