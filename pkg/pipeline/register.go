package pipeline

import (
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
)

// RegisterAll binds every pipeline operation to the command registry.
func RegisterAll(registry *queue.Registry, deps Deps) {
	registry.Register(OpTagAmbient, NewTagCommandFactory(deps, config.TagTypeAmbient))
	registry.Register(OpTagVoice, NewTagCommandFactory(deps, config.TagTypeVoice))
	registry.Register(OpTagFx, NewTagCommandFactory(deps, config.TagTypeFx))
	registry.Register(OpTagMusic, NewTagCommandFactory(deps, config.TagTypeMusic))
	registry.Register(OpBatchTag, NewBatchTagCommandFactory(deps))

	seriesFactory := NewSeriesStageCommandFactory(deps)
	for _, op := range []string{
		OpSeriesCanon, OpSeriesDelta, OpSeriesVerdict,
		OpSeriesStateUpdate, OpSeriesCompress, OpSeriesRecap,
	} {
		registry.Register(op, seriesFactory)
	}
}
