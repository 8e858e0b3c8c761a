package alarm

import "math"

// 备用音频片段参数：主路径不可用或尚未解锁时循环播放的预渲染片段，
// 与主路径等效的双音交替模式，结尾约 200ms 做幅度渐弱
const (
	fallbackClipMs  = 1800
	fallbackTaperMs = 200
)

// RenderFallbackClip 预渲染备用片段（固定格式：16-bit 单声道 PCM）
func RenderFallbackClip() []int16 {
	totalSamples := SampleRate * fallbackClipMs / 1000
	taperSamples := SampleRate * fallbackTaperMs / 1000
	halfSamples := SampleRate * halfCycleMs / 1000

	out := make([]int16, totalSamples)

	for i := 0; i < totalSamples; i++ {
		// 按半周期在两个音之间交替
		freq := toneAHz
		if (i/halfSamples)%2 == 1 {
			freq = toneBHz
		}

		v := math.Sin(2 * math.Pi * freq * float64(i) / SampleRate)

		// 结尾渐弱
		amp := 1.0
		if remaining := totalSamples - i; remaining < taperSamples {
			amp = float64(remaining) / float64(taperSamples)
		}

		out[i] = int16(v * amp * float64(peakAmplitude) * 0.8)
	}

	return out
}
