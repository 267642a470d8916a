package server

import (
	"errors"
	"io"
	"net"
	"time"

	"squarestorm/protocol"
)

// maxDecodeFailures 连续解码失败达到该次数即断开对端
const maxDecodeFailures = 2

// recvLoop 单协程按到达顺序读取并分发一个对端的数据包，直到断线、
// 连续两次解码失败或收到 DISCONNECT
func (s *Server) recvLoop(c *Connection) {
	failures := 0
	for {
		raw, err := c.transport.ReadPacket()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				s.metrics.IncDropped(err)
				s.log.Warnw("oversized frame, dropping peer", "player", c.ID, "err", err)
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debugw("read failed", "player", c.ID, "err", err)
			}
			return
		}
		p, err := s.framer.Decode(raw)
		if err != nil {
			s.metrics.IncDropped(err)
			failures++
			s.log.Debugw("dropping packet", "player", c.ID, "err", err, "consecutive", failures)
			if failures >= maxDecodeFailures {
				s.log.Warnw("too many malformed packets, dropping peer", "player", c.ID)
				return
			}
			continue
		}
		failures = 0
		s.metrics.IncPacketsIn()
		if !s.dispatch(c, raw, p) {
			return
		}
	}
}

// dispatch 返回 false 表示对端主动断开
func (s *Server) dispatch(c *Connection, raw []byte, p protocol.Packet) bool {
	switch p.Kind {
	case protocol.KindPing:
		ping, err := protocol.DecodePayload[protocol.PingPayload](p)
		if err != nil {
			s.log.Debugw("bad ping", "player", c.ID, "err", err)
			return true
		}
		s.mu.Lock()
		c.LastPingAt = time.Now()
		s.mu.Unlock()
		if b, err := s.framer.Pong(ping.Timestamp); err == nil {
			_ = s.sendTo(c, b)
		}

	case protocol.KindPlayerInput:
		in, err := protocol.DecodePayload[protocol.InputPayload](p)
		if err != nil {
			s.log.Debugw("bad input", "player", c.ID, "err", err)
			return true
		}
		s.mu.Lock()
		c.LastInput = inputFromPayload(in)
		s.mu.Unlock()

	case protocol.KindTeamSelect:
		sel, err := protocol.DecodePayload[protocol.TeamSelectPayload](p)
		if err != nil {
			s.log.Debugw("bad team select", "player", c.ID, "err", err)
			return true
		}
		s.selectTeam(c, sel)

	case protocol.KindMinigameAction, protocol.KindGameStart:
		// 纯转发：原样发给除发送者外的所有人，不解析载荷
		n := s.Broadcast(raw, c.ID)
		s.metrics.IncRelayed()
		s.log.Debugw("relayed", "kind", p.Kind, "from", c.ID, "to", n)

	case protocol.KindDisconnect:
		s.log.Debugw("disconnect requested", "player", c.ID)
		return false

	case protocol.KindConnect:
		s.log.Warnw("ignoring repeated CONNECT", "player", c.ID)

	default:
		// 保留类型以及只应由服务端发出的类型
		s.log.Debugw("ignoring packet", "player", c.ID, "kind", p.Kind)
	}
	return true
}
