//go:build release
// +build release

package home

const checkEnabled = false
