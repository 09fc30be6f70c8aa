//go:build !linux

package main

// setProcessTitle is a no-op outside Linux: there is no portable way to
// rewrite argv[0] in place (spec §4.9 "--natural-title").
func setProcessTitle(name string) {}
