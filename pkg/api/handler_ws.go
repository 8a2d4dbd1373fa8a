package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades the connection and hands it to the ConnectionManager,
// which owns its subscribe/unsubscribe/broadcast lifecycle from here on.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.conns.HandleConnection(c.Request().Context(), conn)
	return nil
}
