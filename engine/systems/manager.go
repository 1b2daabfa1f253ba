package systems

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type SystemManagerConfig struct {
	Workers          int
	MaxPipelineCount uint16
}

type SystemManager struct {
	JobSystem    *JobSystem
	ShaderSystem *ShaderSystem
}

func NewSystemManager(config SystemManagerConfig, device *renderer.Device, source ShaderSource) (*SystemManager, error) {
	js, err := NewJobSystem(config.Workers, config.Workers)
	if err != nil {
		return nil, err
	}
	if config.MaxPipelineCount == 0 {
		config.MaxPipelineCount = 512
	}
	ss, err := NewShaderSystem(&ShaderSystemConfig{
		MaxPipelineCount: config.MaxPipelineCount,
	}, source, device)
	if err != nil {
		js.Shutdown()
		return nil, err
	}
	return &SystemManager{
		JobSystem:    js,
		ShaderSystem: ss,
	}, nil
}

// Update runs once per frame before recording starts.
func (sm *SystemManager) Update() error {
	_, err := sm.ShaderSystem.Update()
	return err
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.ShaderSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
