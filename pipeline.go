package vkframe

import (
	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// PipelineBuilder collects the fixed function state of a graphics pipeline
// drawing Vertex meshes.
type PipelineBuilder struct {
	desc hal.PipelineDesc
}

// NewPipelineBuilder starts from triangle lists of Vertex with depth testing
// on and no culling.
func NewPipelineBuilder(program *ShaderProgram) *PipelineBuilder {
	return &PipelineBuilder{desc: hal.PipelineDesc{
		Vertex:       program.Vertex,
		Fragment:     program.Fragment,
		VertexStride: VertexStride,
		Attributes:   VertexAttributes(),
		DepthTest:    true,
	}}
}

func (b *PipelineBuilder) BindingLayouts(layouts ...hal.BindingLayout) *PipelineBuilder {
	b.desc.BindingLayouts = append(b.desc.BindingLayouts, layouts...)
	return b
}

func (b *PipelineBuilder) CullBackFaces(cull bool) *PipelineBuilder {
	b.desc.CullBackFaces = cull
	return b
}

func (b *PipelineBuilder) DepthTest(on bool) *PipelineBuilder {
	b.desc.DepthTest = on
	return b
}

// Build creates the pipeline for pass. Viewport and scissor are dynamic, so
// the pipeline survives swap chain recreation.
func (b *PipelineBuilder) Build(dev hal.Device, pass hal.RenderPass) (hal.Pipeline, error) {
	desc := b.desc
	desc.RenderPass = pass
	p, err := dev.CreatePipeline(desc)
	if err != nil {
		return nil, errors.Wrap(err, "create graphics pipeline")
	}
	return p, nil
}
