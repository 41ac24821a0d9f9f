package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/fatih/structs"
	"github.com/greearb/xorp.ct-sub013/fea"
	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"
)

func fail(c echo.Context, code int, err error) error {
	return c.JSONPretty(code, &errorResponse{Error: err.Error()}, JSON_PRETTY_INDENT)
}

// kernelStatus maps what the kernel told us onto an HTTP status.
func kernelStatus(err error) int {
	switch {
	case errors.Is(err, fea.ErrNoSuchLink), errors.Is(err, unix.ESRCH), errors.Is(err, unix.ENODEV):
		return http.StatusNotFound
	case errors.Is(err, unix.EEXIST):
		return http.StatusConflict
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENETUNREACH):
		return http.StatusBadRequest
	case errors.Is(err, fea.ErrNotStarted):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func handleRoot(c echo.Context) error {
	cc := c.(*extendedContext)
	return c.JSONPretty(http.StatusOK, &rootResponse{
		ApiRoutes: cc.apiRoutes,
	}, JSON_PRETTY_INDENT)
}

func handleStats(c echo.Context) error {
	cc := c.(*extendedContext)
	return c.JSONPretty(http.StatusOK, structs.Map(cc.engine.Stats()), JSON_PRETTY_INDENT)
}

func handleIfaces(c echo.Context) error {
	cc := c.(*extendedContext)

	ifaces := cc.engine.Tree().Ifaces()
	resp := make([]map[string]interface{}, 0, len(ifaces))
	for _, r := range ifaces {
		resp = append(resp, renderIface(r, nil))
	}

	return c.JSONPretty(http.StatusOK, resp, JSON_PRETTY_INDENT)
}

func handleIface(c echo.Context) error {
	cc := c.(*extendedContext)
	tree := cc.engine.Tree()

	name := c.Param("name")
	for _, r := range tree.Ifaces() {
		if r.Name == name {
			return c.JSONPretty(http.StatusOK, renderIface(r, tree.Addrs(name)), JSON_PRETTY_INDENT)
		}
	}

	return fail(c, http.StatusNotFound, fea.ErrNoSuchLink)
}

func handleAddrs(c echo.Context) error {
	cc := c.(*extendedContext)
	tree := cc.engine.Tree()

	var addrs []types.AddrRecord
	if name := c.QueryParam("iface"); name != "" {
		addrs = tree.Addrs(name)
	} else {
		for _, r := range tree.Ifaces() {
			addrs = append(addrs, tree.Addrs(r.Name)...)
		}
	}

	resp := make([]map[string]interface{}, 0, len(addrs))
	for _, a := range addrs {
		resp = append(resp, renderAddr(a))
	}

	return c.JSONPretty(http.StatusOK, resp, JSON_PRETTY_INDENT)
}

func handleRoutes(c echo.Context) error {
	cc := c.(*extendedContext)

	var table uint64
	if t := c.QueryParam("table"); t != "" {
		var err error
		if table, err = strconv.ParseUint(t, 10, 32); err != nil {
			return fail(c, http.StatusBadRequest, err)
		}
	}

	resp := []map[string]interface{}{}
	for _, r := range cc.engine.Tree().Routes() {
		if table != 0 && r.Table != uint32(table) {
			continue
		}
		resp = append(resp, renderRoute(r))
	}

	return c.JSONPretty(http.StatusOK, resp, JSON_PRETTY_INDENT)
}

// handleLink asks the kernel directly instead of looking at the tree.
func handleLink(c echo.Context) error {
	cc := c.(*extendedContext)

	index, err := strconv.ParseUint(c.Param("index"), 10, 32)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}

	r, err := cc.engine.QueryLink(c.Request().Context(), uint32(index))
	if err != nil {
		return fail(c, kernelStatus(err), err)
	}

	return c.JSONPretty(http.StatusOK, renderIface(r, nil), JSON_PRETTY_INDENT)
}

func bindRoute(c echo.Context) (types.RouteEntry, error) {
	req := routeRequest{}
	if err := c.Bind(&req); err != nil {
		return types.RouteEntry{}, err
	}
	return req.entry()
}

func handleAddRoute(c echo.Context) error {
	return changeRoute(c, http.StatusCreated, Engine.AddRoute)
}

func handleReplaceRoute(c echo.Context) error {
	return changeRoute(c, http.StatusOK, Engine.ReplaceRoute)
}

func handleDeleteRoute(c echo.Context) error {
	return changeRoute(c, http.StatusOK, Engine.DeleteRoute)
}

func changeRoute(c echo.Context, code int, do func(Engine, context.Context, types.RouteEntry) error) error {
	cc := c.(*extendedContext)

	entry, err := bindRoute(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err)
	}

	if err := do(cc.engine, c.Request().Context(), entry); err != nil {
		return fail(c, kernelStatus(err), err)
	}

	return c.JSONPretty(code, renderRoute(entry), JSON_PRETTY_INDENT)
}
