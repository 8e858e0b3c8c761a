package alarm

import "math"

// 合成参数：16-bit 单声道 PCM
const (
	SampleRate = 16000

	// 双音警笛：两个频率按固定短周期交替
	toneAHz = 960.0
	toneBHz = 770.0

	// 每个半周期 300ms
	halfCycleMs = 300

	// 半周期边界的线性 attack/release 包络，避免可闻的咔哒声
	envelopeMs = 8

	// 硬削波前的过驱增益（非正弦波形，刺耳、穿透力强）
	clipDrive = 4.0

	peakAmplitude = 28000
)

// RenderSiren 合成主路径警笛波形（两个完整交替周期，约 1.2s）
// 播放期间由 2000ms 定时器反复触发，与单个缓冲长度无关
func RenderSiren() []int16 {
	halfSamples := SampleRate * halfCycleMs / 1000
	buf := make([]int16, 0, halfSamples*4)

	buf = append(buf, renderHalfCycle(toneAHz, halfSamples)...)
	buf = append(buf, renderHalfCycle(toneBHz, halfSamples)...)
	buf = append(buf, renderHalfCycle(toneAHz, halfSamples)...)
	buf = append(buf, renderHalfCycle(toneBHz, halfSamples)...)

	return buf
}

// renderHalfCycle 单个半周期：过驱正弦 → 硬削波 → 两端线性包络
func renderHalfCycle(freq float64, samples int) []int16 {
	envSamples := SampleRate * envelopeMs / 1000
	out := make([]int16, samples)

	for i := 0; i < samples; i++ {
		v := math.Sin(2*math.Pi*freq*float64(i)/SampleRate) * clipDrive
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}

		// 线性 attack/release
		env := 1.0
		if i < envSamples {
			env = float64(i) / float64(envSamples)
		} else if samples-i <= envSamples {
			env = float64(samples-i) / float64(envSamples)
		}

		out[i] = int16(v * env * peakAmplitude)
	}

	return out
}

// RenderSilence 一小段静音（解锁时的"真实但无声"发声）
func RenderSilence(ms int) []int16 {
	return make([]int16, SampleRate*ms/1000)
}
