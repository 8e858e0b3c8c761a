package alarm

// NopOutput 无音频外设时的空输出（服务仍正常渲染与记日志，
// 声音是 best-effort 增强而非状态机的正确性依赖）
type NopOutput struct{}

func (NopOutput) Play(pcm []int16, sampleRate int) error { return nil }
func (NopOutput) Silence() error                         { return nil }
func (NopOutput) Close() error                           { return nil }
