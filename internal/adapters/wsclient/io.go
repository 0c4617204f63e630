package wsclient

import (
	"errors"
	"time"

	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/gorilla/websocket"
)

func (c *Client) writePump(cn *conn) {
	defer c.drop(cn)
	for data := range cn.send {
		if err := cn.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error().Err(err).Msg("writePump set deadline")
			return
		}
		if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Error().Err(err).Msg("writePump write error")
			return
		}
	}
	_ = cn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (c *Client) readPump(cn *conn) {
	defer c.drop(cn)

	_ = cn.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	cn.ws.SetPingHandler(func(data string) error {
		_ = cn.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		err := cn.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		_ = cn.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	if msg.IsCall() && msg.From == "" {
		c.logger.Warn().Str("type", string(msg.Type)).Msg("dropping unattributed call message")
		return
	}
	if msg.Type == protocol.TypePong {
		return
	}

	c.mu.RLock()
	fn := c.handler
	c.mu.RUnlock()
	if fn != nil {
		fn(msg.From, msg)
	}
}
