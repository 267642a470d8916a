package client

import "time"

// DefaultInterpolationRate 每次调用向目标靠近的比例
const DefaultInterpolationRate = 0.3

// Interpolator 一阶指数平滑：x += (target_x - x) * rate，不外推。
// FrameRateHint 为 0 时 rate 按调用次数生效（与帧率相关）；
// 大于 0 时按 dt * FrameRateHint 缩放，使平滑速度与帧率无关。
type Interpolator struct {
	Rate          float64
	FrameRateHint float64
}

func (ip Interpolator) factor(rate float64, dt time.Duration) float64 {
	if ip.FrameRateHint <= 0 {
		return rate
	}
	f := rate * dt.Seconds() * ip.FrameRateHint
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f
}

// Step 推进一个远程玩家的渲染位置
func (ip Interpolator) Step(p *RemotePlayer, dt time.Duration) {
	rate := p.InterpolationRate
	if rate <= 0 {
		rate = ip.Rate
	}
	f := ip.factor(rate, dt)
	p.X += (p.TargetX - p.X) * f
	p.Y += (p.TargetY - p.Y) * f
}
