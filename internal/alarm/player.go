package alarm

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetriggerInterval 播放期间按固定墙钟间隔重新触发循环
const RetriggerInterval = 2000 * time.Millisecond

// Output 音频输出设备（外部协作方）
type Output interface {
	// Play 提交一段 PCM 缓冲开始播放
	Play(pcm []int16, sampleRate int) error
	// Silence 立即静音并回卷
	Silence() error
	// Close 释放底层音频资源
	Close() error
}

// UnlockState 音频解锁状态
type UnlockState int

const (
	Locked UnlockState = iota
	Unlocking
	Unlocked
)

// Player 报警音播放器
// 进程级单例（由 service 构造并注入，不用包级全局变量——
// 重叠的音源会产生可闻失真）。
//
// 两条独立状态线：Locked→Unlocking→Unlocked（平台自动播放限制，
// 首次用户交互触发，恰好一次）；Idle↔Playing。
type Player struct {
	out    Output
	logger *zap.Logger

	mu          sync.Mutex
	unlockState UnlockState
	playing     bool
	disposed    bool

	sirenBuf     []int16 // 解锁时预合成
	fallbackClip []int16 // 构造时预渲染

	stopRetrigger chan struct{}
}

// NewPlayer 创建播放器
func NewPlayer(out Output, logger *zap.Logger) *Player {
	return &Player{
		out:          out,
		logger:       logger,
		unlockState:  Locked,
		fallbackClip: RenderFallbackClip(),
	}
}

// State 当前解锁状态
func (p *Player) State() UnlockState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlockState
}

// Playing 是否正在播放
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Unlock 由首次用户交互触发
// 执行一次真实但无声的发声以满足平台自动播放限制，随后预合成
// 报警波形。失败保持 Locked，下次交互重试；绝不向上抛 panic。
func (p *Player) Unlock() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return fmt.Errorf("player disposed")
	}
	if p.unlockState == Unlocked {
		p.mu.Unlock()
		return nil
	}
	p.unlockState = Unlocking
	p.mu.Unlock()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("audio unlock panicked: %v", r)
			}
		}()

		// 真实但无声的发声
		if err := p.out.Play(RenderSilence(30), SampleRate); err != nil {
			return fmt.Errorf("silent emission failed: %w", err)
		}
		return p.out.Silence()
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.unlockState = Locked
		p.logger.Warn("Audio unlock failed, will retry on next interaction", zap.Error(err))
		return err
	}

	p.sirenBuf = RenderSiren()
	p.unlockState = Unlocked
	p.logger.Info("Audio unlocked, siren waveform pre-rendered")
	return nil
}

// Play 开始播放（幂等：已在播放则 no-op）
func (p *Player) Play() {
	p.mu.Lock()
	if p.disposed || p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	stop := make(chan struct{})
	p.stopRetrigger = stop
	p.mu.Unlock()

	p.trigger()

	// 固定 2000ms 重触发，独立于单缓冲长度
	go func() {
		ticker := time.NewTicker(RetriggerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.trigger()
			}
		}
	}()
}

// trigger 提交一轮播放：已解锁走合成波形，否则走备用片段；
// 主路径失败静默回退，两者都失败也只记日志（声音是 best-effort 增强）
func (p *Player) trigger() {
	p.mu.Lock()
	if !p.playing || p.disposed {
		p.mu.Unlock()
		return
	}
	unlocked := p.unlockState == Unlocked
	siren := p.sirenBuf
	clip := p.fallbackClip
	p.mu.Unlock()

	if unlocked {
		if err := p.out.Play(siren, SampleRate); err == nil {
			return
		} else {
			p.logger.Debug("Primary siren emission failed, falling back", zap.Error(err))
		}
	}

	if err := p.out.Play(clip, SampleRate); err != nil {
		p.logger.Debug("Fallback clip emission failed", zap.Error(err))
	}
}

// Stop 停止播放（幂等）：取消重触发定时器并静音/回卷备用片段
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	if p.stopRetrigger != nil {
		close(p.stopRetrigger)
		p.stopRetrigger = nil
	}
	p.mu.Unlock()

	if err := p.out.Silence(); err != nil {
		p.logger.Debug("Failed to silence output", zap.Error(err))
	}
}

// Drive 驱动条件：每次遥测更新重新计算，而非缓存旧聚合——
// mute/确认/新遥测可能以任意顺序到达，播放器必须反映当下真值。
// play iff 存在未确认跌倒 ∧ 未静音 ∧ 未全局确认
func (p *Player) Drive(unackedFall, muted, globallyAcked bool) {
	if unackedFall && !muted && !globallyAcked {
		p.Play()
	} else {
		p.Stop()
	}
}

// Dispose 停止并释放底层音频资源（可重复调用）
func (p *Player) Dispose() {
	p.Stop()

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	if err := p.out.Close(); err != nil {
		p.logger.Debug("Failed to close audio output", zap.Error(err))
	}
}
