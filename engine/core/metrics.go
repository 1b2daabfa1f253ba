package core

import "sync"

const AVG_COUNT uint8 = 30

// Metrics keeps frame timing plus the lifecycle counters of one device.
type Metrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	counters MetricsCounters
}

type MetricsCounters struct {
	FramesSubmitted     uint64
	ObjectsRetired      uint64
	ObjectsReleased     uint64
	RingGrowths         uint64
	DescriptorHeapGrows uint64
	DescriptorBlocks    uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// Add applies fn to the counters under the metrics lock.
func (m *Metrics) Add(fn func(c *MetricsCounters)) {
	m.mu.Lock()
	fn(&m.counters)
	m.mu.Unlock()
}

func (m *Metrics) Counters() MetricsCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}
