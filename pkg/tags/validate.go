package tags

import (
	"fmt"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// requirement describes what a role's output must contain to be accepted.
type requirement struct {
	tag            string
	minBlocks      int
	requiredFields []string
	allowEmpty     bool // a lone empty block means "nothing to tag here"
}

var roleRequirements = map[config.Role]requirement{
	config.RoleAmbientTagger:      {tag: "AMBIENTE", minBlocks: 1, allowEmpty: true},
	config.RoleVoiceTagger:        {tag: "VOCE", minBlocks: 1, requiredFields: []string{"NOME"}},
	config.RoleFxTagger:           {tag: "EFFETTO", minBlocks: 1, allowEmpty: true},
	config.RoleMusicTagger:        {tag: "MUSICA", minBlocks: 1, allowEmpty: true},
	config.RoleCanonExtractor:     {tag: "EVENTO", minBlocks: 1},
	config.RoleDeltaBuilder:       {tag: "DELTA", minBlocks: 1},
	config.RoleContinuityValidator: {tag: "VERDETTO", minBlocks: 1},
	config.RoleStateCompressor:    {tag: "STATO", minBlocks: 1},
	config.RoleRecapBuilder:       {tag: "RECAP", minBlocks: 1},
}

// Validate checks parsed model output against the role's output contract.
// It returns ok plus a reason string suitable for retry logs and diagnosis
// prompts. Roles without a registered contract accept any non-empty output.
func Validate(role config.Role, blocks []Block) (bool, string) {
	req, known := roleRequirements[role]
	if !known {
		if len(blocks) == 0 {
			return false, "output contains no tag blocks"
		}
		return true, ""
	}

	matching := BlocksByTag(blocks, req.tag)
	if len(matching) < req.minBlocks {
		return false, fmt.Sprintf("expected at least %d [%s] block(s), found %d",
			req.minBlocks, req.tag, len(matching))
	}

	if req.allowEmpty && len(matching) == 1 && matching[0].IsEmpty() {
		return true, ""
	}

	for i, b := range matching {
		if b.IsEmpty() {
			return false, fmt.Sprintf("[%s] block %d is empty", req.tag, i+1)
		}
		for _, key := range req.requiredFields {
			if b.Field(key) == "" {
				return false, fmt.Sprintf("[%s] block %d is missing required field %s", req.tag, i+1, key)
			}
		}
	}
	return true, ""
}
