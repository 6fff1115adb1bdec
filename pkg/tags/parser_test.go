package tags

import (
	"testing"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

func TestParseTagBlocks_BasicBlocks(t *testing.T) {
	input := "[AMBIENTE] bosco notturno\nMOOD: cupo\nVOLUME: basso\n\n[AMBIENTE] radura\nMOOD: quieto"

	blocks := ParseTagBlocks(input)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Tag != "AMBIENTE" {
		t.Errorf("Tag = %q, want AMBIENTE", blocks[0].Tag)
	}
	if got := blocks[0].Content(); got != "bosco notturno" {
		t.Errorf("Content = %q, want %q", got, "bosco notturno")
	}
	if got := blocks[0].Field("MOOD"); got != "cupo" {
		t.Errorf("Field(MOOD) = %q, want cupo", got)
	}
	if got := blocks[1].Field("MOOD"); got != "quieto" {
		t.Errorf("second block Field(MOOD) = %q, want quieto", got)
	}
}

func TestParseTagBlocks_BracketedFieldFoldsIntoOpenBlock(t *testing.T) {
	// Models sometimes bracket field keys. A known field key must not open
	// a new block while one is open.
	input := "[VOCE] marco\nNOME: Marco\n[TONO] arrabbiato\nTESTO: Vattene!"

	blocks := ParseTagBlocks(input)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if got := blocks[0].Field("TONO"); got != "arrabbiato" {
		t.Errorf("Field(TONO) = %q, want arrabbiato", got)
	}
	if got := blocks[0].Field("TESTO"); got != "Vattene!" {
		t.Errorf("Field(TESTO) = %q, want %q", got, "Vattene!")
	}
}

func TestParseTagBlocks_VoceOpensBlockNotField(t *testing.T) {
	input := "[VOCE] marco\nNOME: Marco\n[VOCE] anna\nNOME: Anna"

	blocks := ParseTagBlocks(input)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 VOCE blocks, got %d", len(blocks))
	}
	if got := blocks[1].Field("NOME"); got != "Anna" {
		t.Errorf("second block Field(NOME) = %q, want Anna", got)
	}
}

func TestParseTagBlocks_ProseBeforeFirstTagDropped(t *testing.T) {
	input := "Ecco le annotazioni richieste:\n\n[EFFETTO] tuono lontano\nINTENSITA: media"

	blocks := ParseTagBlocks(input)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if got := blocks[0].Content(); got != "tuono lontano" {
		t.Errorf("Content = %q, want %q", got, "tuono lontano")
	}
}

func TestParseTagBlocks_Empty(t *testing.T) {
	if blocks := ParseTagBlocks(""); blocks != nil {
		t.Errorf("expected nil blocks for empty input, got %v", blocks)
	}
	if blocks := ParseTagBlocks("solo prosa, nessun tag"); blocks != nil {
		t.Errorf("expected nil blocks for untagged input, got %v", blocks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		role       config.Role
		input      string
		wantOK     bool
		wantReason string
	}{
		{
			name:   "ambient ok",
			role:   config.RoleAmbientTagger,
			input:  "[AMBIENTE] bosco\nMOOD: cupo",
			wantOK: true,
		},
		{
			name:       "ambient missing block",
			role:       config.RoleAmbientTagger,
			input:      "nessun tag qui",
			wantOK:     false,
			wantReason: "expected at least 1 [AMBIENTE] block(s), found 0",
		},
		{
			name:   "ambient lone empty block means nothing to tag",
			role:   config.RoleAmbientTagger,
			input:  "[AMBIENTE]",
			wantOK: true,
		},
		{
			name:       "voice missing NOME",
			role:       config.RoleVoiceTagger,
			input:      "[VOCE] qualcuno parla\nTONO: calmo",
			wantOK:     false,
			wantReason: "[VOCE] block 1 is missing required field NOME",
		},
		{
			name:   "voice ok",
			role:   config.RoleVoiceTagger,
			input:  "[VOCE] saluto\nNOME: Anna\nTONO: calmo",
			wantOK: true,
		},
		{
			name:   "canon extractor ok",
			role:   config.RoleCanonExtractor,
			input:  "[EVENTO] Marco trova la mappa\n[EVENTO] Anna parte per il nord",
			wantOK: true,
		},
		{
			name:       "canon extractor empty",
			role:       config.RoleCanonExtractor,
			input:      "",
			wantOK:     false,
			wantReason: "expected at least 1 [EVENTO] block(s), found 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := Validate(tt.role, ParseTagBlocks(tt.input))
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (reason %q)", ok, tt.wantOK, reason)
			}
			if tt.wantReason != "" && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}
