package assets

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

func spirvBlob(words ...uint32) []byte {
	buf := make([]byte, 4*(len(words)+1))
	binary.LittleEndian.PutUint32(buf, spirvMagic)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], w)
	}
	return buf
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newLibrary(t *testing.T, root string) *Library {
	t.Helper()
	l, err := NewLibrary(root)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, l.Close()) })
	return l
}

func TestLibraryIndexesRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "triangle.vert.spv"), spirvBlob(1))
	writeFile(t, filepath.Join(root, "post", "blur.comp.spv"), spirvBlob(2))
	writeFile(t, filepath.Join(root, "readme.txt"), []byte("ignored"))

	l := newLibrary(t, root)
	assert.Equal(t, []string{"post/blur.comp.spv", "triangle.vert.spv"}, l.Names(AssetTypeShader))
	assert.Empty(t, l.Drain())

	shader, err := l.Shader("post/blur.comp.spv")
	require.NoError(t, err)
	assert.Equal(t, metadata.StageCompute, shader.Stage)
	assert.Equal(t, "main", shader.EntryPoint)
	assert.Len(t, shader.Bytecode, 8)
}

func TestLibraryMissingAsset(t *testing.T) {
	l := newLibrary(t, t.TempDir())

	_, err := l.Shader("nope.vert.spv")
	assert.ErrorIs(t, err, ErrAssetNotFound)
	_, err = l.Image("nope.png", ImageOptions{})
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestLibraryReportsShaderWrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "triangle.frag.spv")
	writeFile(t, path, spirvBlob(1))
	l := newLibrary(t, root)

	writeFile(t, path, spirvBlob(1, 2))
	require.Eventually(t, func() bool {
		l.mutex.RLock()
		defer l.mutex.RUnlock()
		_, ok := l.changed["triangle.frag.spv"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Contains(t, l.Drain(), "triangle.frag.spv")

	shader, err := l.Shader("triangle.frag.spv")
	require.NoError(t, err)
	assert.Len(t, shader.Bytecode, 12)
}

func TestLibraryImage(t *testing.T) {
	root := t.TempDir()
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	writeFile(t, filepath.Join(root, "textures", "red.png"), buf.Bytes())

	l := newLibrary(t, root)
	img, err := l.Image("textures/red.png", ImageOptions{Mips: true})
	require.NoError(t, err)
	assert.Equal(t, "textures/red.png", img.Desc.Name)
	assert.Equal(t, uint32(4), img.Desc.Width)
	assert.Equal(t, uint32(3), img.Desc.MipLevels)
	assert.Len(t, img.Subresources, 3)
}

func TestShaderLoaderRejectsBadBlobs(t *testing.T) {
	root := t.TempDir()
	odd := filepath.Join(root, "odd.vert.spv")
	writeFile(t, odd, []byte{1, 2, 3})
	magic := filepath.Join(root, "magic.vert.spv")
	writeFile(t, magic, []byte{1, 2, 3, 4})

	_, err := (&ShaderLoader{}).Load(odd)
	assert.Error(t, err)
	_, err = (&ShaderLoader{}).Load(magic)
	assert.ErrorContains(t, err, "magic")
}

func TestShaderStage(t *testing.T) {
	for path, stage := range map[string]metadata.ShaderStage{
		"a.vert.spv":  metadata.StageVertex,
		"a.frag.spv":  metadata.StagePixel,
		"a.comp.spv":  metadata.StageCompute,
		"a.rgen.spv":  metadata.StageRaygen,
		"library.spv": metadata.StageAll,
	} {
		assert.Equal(t, stage, shaderStage(path), path)
	}
}
