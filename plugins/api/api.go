package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/greearb/xorp.ct-sub013/types"
	"github.com/labstack/echo/v4"
)

type ApiPlugin struct {
	server *echo.Echo
	engine Engine
	logger *slog.Logger

	conf Config
}

func New(conf *Config, engine Engine) *ApiPlugin {
	// Parenthesis required due to a parsing ambiguity!
	if conf == nil {
		conf = &DefaultConfig
	}
	return &ApiPlugin{conf: *conf, engine: engine, logger: types.NewLogger("api", conf.Log)}
}

func (p *ApiPlugin) String() string {
	return "api"
}

func (p *ApiPlugin) Init() error {
	p.logger.Debug("initialising the api plugin")
	p.server = echo.New()

	// Extend the context of every handler with the engine.
	p.server.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&extendedContext{c, p.server.Routes(), p.engine})
		}
	})

	// Configure the methods for each path
	p.server.GET("/", handleRoot)
	p.server.GET("/stats", handleStats)
	p.server.GET("/ifaces", handleIfaces)
	p.server.GET("/ifaces/:name", handleIface)
	p.server.GET("/addrs", handleAddrs)
	p.server.GET("/links/:index", handleLink)
	p.server.GET("/routes", handleRoutes)
	p.server.POST("/routes", handleAddRoute)
	p.server.PUT("/routes", handleReplaceRoute)
	p.server.DELETE("/routes", handleDeleteRoute)

	// Prevent the banner from showing up in the log
	p.server.HideBanner = true
	p.server.HidePort = true

	return nil
}

func (p *ApiPlugin) Run(done <-chan struct{}) {
	p.logger.Debug("running the api plugin")

	go func() {
		if err := p.server.Start(fmt.Sprintf("%s:%d", p.conf.BindAddress, p.conf.BindPort)); !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("couldn't start the API server", "err", err)
		}
	}()

	// Simply wait until we're done
	<-done
	p.logger.Debug("cleanly exiting the api plugin")
}

func (p *ApiPlugin) Cleanup() error {
	p.logger.Debug("cleaning up the api plugin")
	if err := p.server.Shutdown(context.TODO()); err != nil {
		return fmt.Errorf("error shutting down the API server: %w", err)
	}
	return nil
}
