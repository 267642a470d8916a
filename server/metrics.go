package server

import (
	"errors"
	"sync/atomic"

	"squarestorm/protocol"
)

// Metrics 记录服务器运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount        int64 // 完成的 Tick 次数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
	Snapshots        int64 // 发出的 GAME_STATE 广播次数
	PacketsIn        int64 // 成功解码的入站包
	PacketsOut       int64 // 成功写出的出站包
	BytesOut         int64
	MalformedDropped int64 // 帧或载荷格式错误被丢弃
	VersionDropped   int64 // 协议版本不符被丢弃
	RegistryFull     int64 // 人数已满被拒绝的连接
	UnexpectedFirst  int64 // 首包不是 CONNECT 的连接
	Relayed          int64 // 转发的 MINIGAME_ACTION / GAME_START
	Joins            int64
	Leaves           int64
}

func (m *Metrics) IncPacketsIn()       { atomic.AddInt64(&m.PacketsIn, 1) }
func (m *Metrics) IncRegistryFull()    { atomic.AddInt64(&m.RegistryFull, 1) }
func (m *Metrics) IncUnexpectedFirst() { atomic.AddInt64(&m.UnexpectedFirst, 1) }
func (m *Metrics) IncRelayed()         { atomic.AddInt64(&m.Relayed, 1) }
func (m *Metrics) IncJoins()           { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncLeaves()          { atomic.AddInt64(&m.Leaves, 1) }
func (m *Metrics) IncSnapshots()       { atomic.AddInt64(&m.Snapshots, 1) }

func (m *Metrics) AddSent(packets, bytes int) {
	atomic.AddInt64(&m.PacketsOut, int64(packets))
	atomic.AddInt64(&m.BytesOut, int64(bytes))
}

// IncDropped 按错误类型归类丢弃的包
func (m *Metrics) IncDropped(err error) {
	if errors.Is(err, protocol.ErrBadVersion) {
		atomic.AddInt64(&m.VersionDropped, 1)
		return
	}
	atomic.AddInt64(&m.MalformedDropped, 1)
}

func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
		"snapshots":         atomic.LoadInt64(&m.Snapshots),
		"packets_in":        atomic.LoadInt64(&m.PacketsIn),
		"packets_out":       atomic.LoadInt64(&m.PacketsOut),
		"bytes_out":         atomic.LoadInt64(&m.BytesOut),
		"malformed_dropped": atomic.LoadInt64(&m.MalformedDropped),
		"version_dropped":   atomic.LoadInt64(&m.VersionDropped),
		"registry_full":     atomic.LoadInt64(&m.RegistryFull),
		"unexpected_first":  atomic.LoadInt64(&m.UnexpectedFirst),
		"relayed":           atomic.LoadInt64(&m.Relayed),
		"joins":             atomic.LoadInt64(&m.Joins),
		"leaves":            atomic.LoadInt64(&m.Leaves),
	}
}
