// Package netlink implements the NETLINK_ROUTE wire codec: it splits
// buffers into messages, scans their attributes and decodes link, address
// and route messages into the records in package types. It also builds the
// requests we send to the kernel. Nothing in here does any I/O.
package netlink
