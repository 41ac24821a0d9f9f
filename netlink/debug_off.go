//go:build !xorpdebug

package netlink

const debugBuild = false
