//go:build !linux

package main

import "fmt"

// dropPrivileges is unsupported outside Linux (spec §4.9 "-u/--user").
func dropPrivileges(username string) error {
	return fmt.Errorf("-u/--user is not supported on this platform")
}
