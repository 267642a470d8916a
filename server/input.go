package server

import "squarestorm/protocol"

// Input 客户端最近一次上报的输入（意图），在下一次 Tick 中由模拟扩展点解释
type Input struct {
	Keys     map[string]bool
	MouseX   int32
	MouseY   int32
	Shooting bool
}

func inputFromPayload(p protocol.InputPayload) Input {
	keys := make(map[string]bool, len(p.Keys))
	for k, v := range p.Keys {
		keys[k] = v
	}
	return Input{Keys: keys, MouseX: p.MouseX, MouseY: p.MouseY, Shooting: p.Shooting}
}

// Pressed 某个动作键是否按下
func (in Input) Pressed(action string) bool {
	return in.Keys[action]
}
