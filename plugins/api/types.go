package api

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/fatih/structs"
	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/internal/iftree"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/labstack/echo/v4"
)

const (
	JSON_PRETTY_INDENT string = "    "
)

// Engine is the view of the kernel state the API serves. Everything on it
// must be safe to call from the server's goroutines.
type Engine interface {
	Tree() *iftree.Tree
	Stats() fea.Stats
	QueryLink(ctx context.Context, index uint32) (types.IfaceRecord, error)
	AddRoute(ctx context.Context, e types.RouteEntry) error
	ReplaceRoute(ctx context.Context, e types.RouteEntry) error
	DeleteRoute(ctx context.Context, e types.RouteEntry) error
}

type rootResponse struct {
	ApiRoutes []*echo.Route
}

type errorResponse struct {
	Error string `json:"error"`
}

type extendedContext struct {
	echo.Context
	apiRoutes []*echo.Route
	engine    Engine
}

type routeRequest struct {
	Dst     netip.Prefix `json:"dst"`
	NextHop netip.Addr   `json:"nextHop"`
	Index   uint32       `json:"index"`
	Metric  uint32       `json:"metric"`
	Table   uint32       `json:"table"`
}

func (r routeRequest) entry() (types.RouteEntry, error) {
	if !r.Dst.IsValid() {
		return types.RouteEntry{}, fmt.Errorf("missing destination")
	}

	family := types.IPv4
	if r.Dst.Addr().Is6() {
		family = types.IPv6
	}
	if r.NextHop.IsValid() && r.NextHop.Is6() != r.Dst.Addr().Is6() {
		return types.RouteEntry{}, fmt.Errorf("next hop %s doesn't match %s", r.NextHop, r.Dst)
	}

	return types.RouteEntry{
		Family:  family,
		Dst:     r.Dst.Masked(),
		NextHop: r.NextHop,
		Index:   r.Index,
		Metric:  r.Metric,
		Table:   r.Table,
	}, nil
}

// The records are turned into maps so that we can tweak what the encoder
// would otherwise get wrong: MACs come out in base64 and families as
// numbers. Snapshots carry no meaningful op so it's dropped too.

func renderIface(r types.IfaceRecord, addrs []types.AddrRecord) map[string]interface{} {
	m := structs.Map(r)
	delete(m, "op")
	if len(r.MAC) > 0 {
		m["mac"] = r.MAC.String()
	}
	if addrs != nil {
		rendered := make([]map[string]interface{}, 0, len(addrs))
		for _, a := range addrs {
			rendered = append(rendered, renderAddr(a))
		}
		m["addrs"] = rendered
	}
	return m
}

func renderAddr(r types.AddrRecord) map[string]interface{} {
	m := structs.Map(r)
	delete(m, "op")
	m["family"] = r.Family.String()
	return m
}

func renderRoute(r types.RouteEntry) map[string]interface{} {
	m := structs.Map(r)
	delete(m, "op")
	m["family"] = r.Family.String()
	return m
}
