//go:build windows
// +build windows

package shell

const (
	shellName = "cmd"
	shellFlag = "/C"
)
