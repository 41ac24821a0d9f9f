//go:build xorpdebug

package netlink

// Building with -tags xorpdebug turns inconsistencies into panics.
const debugBuild = true
