package assets

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

const spirvMagic uint32 = 0x07230203

type ShaderLoader struct{}

// Load reads a SPIR-V blob. The stage comes from the second extension, so
// "blit.comp.spv" is a compute shader.
func (sl *ShaderLoader) Load(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateSPIRV(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &metadata.Shader{
		Stage:      shaderStage(path),
		EntryPoint: "main",
		Bytecode:   data,
	}, nil
}

func validateSPIRV(data []byte) error {
	if len(data) < 4 || len(data)%4 != 0 {
		return fmt.Errorf("spir-v blob of %d bytes is not word aligned", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data); magic != spirvMagic {
		return fmt.Errorf("bad spir-v magic %#08x", magic)
	}
	return nil
}

func shaderStage(path string) metadata.ShaderStage {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch filepath.Ext(base) {
	case ".vert":
		return metadata.StageVertex
	case ".frag", ".pixel":
		return metadata.StagePixel
	case ".comp":
		return metadata.StageCompute
	case ".rgen":
		return metadata.StageRaygen
	}
	return metadata.StageAll
}
