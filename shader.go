package vkframe

import (
	"encoding/binary"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// ShaderProgram is the vertex and fragment module pair of one pipeline.
type ShaderProgram struct {
	Vertex   hal.ShaderModule
	Fragment hal.ShaderModule
}

// LoadShaderProgram reads both SPIR-V files and creates their modules.
func LoadShaderProgram(dev hal.Device, vertexPath, fragmentPath string) (*ShaderProgram, error) {
	vert, err := LoadShaderModule(dev, vertexPath)
	if err != nil {
		return nil, err
	}
	frag, err := LoadShaderModule(dev, fragmentPath)
	if err != nil {
		vert.Destroy()
		return nil, err
	}
	return &ShaderProgram{Vertex: vert, Fragment: frag}, nil
}

func (p *ShaderProgram) Destroy() {
	if p.Vertex != nil {
		p.Vertex.Destroy()
		p.Vertex = nil
	}
	if p.Fragment != nil {
		p.Fragment.Destroy()
		p.Fragment = nil
	}
}

// LoadShaderModule reads a SPIR-V file whole and creates a module from it.
// The contents are not inspected.
func LoadShaderModule(dev hal.Device, path string) (hal.ShaderModule, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "shader path %q", path)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read shader")
	}
	words, err := shaderWords(code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	m, err := dev.CreateShaderModule(words)
	return m, errors.Wrapf(err, "create shader module %s", path)
}

// shaderWords converts SPIR-V bytes to the word slice the device expects.
// SPIR-V is a stream of little-endian 32 bit words.
func shaderWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Errorf("bytecode length %d is not a non-zero multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, nil
}
