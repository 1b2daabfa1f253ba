package assets

import "path/filepath"

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeImage
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeImage:
		return "image"
	}
	return "none"
}

// Loader reads one kind of asset from disk.
type Loader interface {
	Load(path string) (any, error)
}

func determineAssetType(path string) AssetType {
	switch filepath.Ext(path) {
	case ".spv":
		return AssetTypeShader
	case ".png", ".bmp":
		return AssetTypeImage
	default:
		return AssetTypeNone
	}
}
