package pipeline

import (
	"fmt"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// Output format contracts appended to each agent's base system prompt. The
// system prompt on the agent row carries the editorial instructions; these
// blocks pin down the machine-readable framing the parser expects.
const (
	ambientContract = `Rispondi SOLO con blocchi nel formato:
[AMBIENTE] descrizione breve dell'ambiente
MOOD: atmosfera
VOLUME: alto|medio|basso
Se il brano non richiede ambienti, rispondi con un solo blocco [AMBIENTE] vuoto.`

	voiceContract = `Rispondi SOLO con blocchi nel formato:
[VOCE] breve descrizione della battuta
NOME: nome del personaggio
TONO: tono della voce
GENERE_VOCE: maschile|femminile|neutro
Ogni battuta di dialogo del brano deve avere il suo blocco [VOCE] con NOME.`

	fxContract = `Rispondi SOLO con blocchi nel formato:
[EFFETTO] descrizione del suono
INTENSITA: alta|media|bassa
DURATA: breve|media|lunga
Se il brano non richiede effetti, rispondi con un solo blocco [EFFETTO] vuoto.`

	musicContract = `Rispondi SOLO con blocchi nel formato:
[MUSICA] descrizione del brano musicale
MOOD: atmosfera
GENERE: genere musicale
POSIZIONE: citazione ESATTA della riga del testo prima della quale inserire la musica
Se il brano non richiede musica, rispondi con un solo blocco [MUSICA] vuoto.`

	canonContract = `Elenca gli eventi canonici dell'episodio, in ordine, uno per blocco:
[EVENTO] descrizione asciutta di un fatto accaduto
Riporta solo fatti espliciti nel testo, niente interpretazioni.`

	deltaContract = `Descrivi il cambiamento dello stato del mondo causato dall'episodio.
Rispondi SOLO con un oggetto JSON: chiavi da aggiornare e nuovi valori.
Non ripetere le parti dello stato che non cambiano.`

	verdictContract = `Confronta il delta con lo stato precedente e rispondi con un blocco:
[VERDETTO] OK
oppure
[VERDETTO] CONTRADDIZIONE
DESCRIZIONE: spiegazione breve di ogni incoerenza trovata`

	compressContract = `Comprimi lo stato in una sintesi fedele e compatta.
Mantieni nomi propri, luoghi e i fili narrativi aperti. Non aggiungere nulla.`

	recapContract = `Scrivi un riassunto scorrevole in prosa degli eventi elencati,
adatto a essere letto come "nelle puntate precedenti". Niente elenchi puntati.`
)

func tagContract(t config.TagType) string {
	switch t {
	case config.TagTypeAmbient:
		return ambientContract
	case config.TagTypeVoice:
		return voiceContract
	case config.TagTypeFx:
		return fxContract
	case config.TagTypeMusic:
		return musicContract
	default:
		return ""
	}
}

func roleContract(role config.Role) string {
	switch role {
	case config.RoleCanonExtractor:
		return canonContract
	case config.RoleDeltaBuilder:
		return deltaContract
	case config.RoleContinuityValidator:
		return verdictContract
	case config.RoleStateCompressor:
		return compressContract
	case config.RoleRecapBuilder:
		return recapContract
	default:
		return ""
	}
}

// buildTagPrompt frames the chunk for a tagging role. The format contract
// travels on the system prompt, not here.
func buildTagPrompt(chunkText string) string {
	return "TESTO DA ANNOTARE:\n" + chunkText
}

func buildCanonPrompt(storyText string) string {
	return "EPISODIO:\n" + storyText
}

func buildDeltaPrompt(canonEvents, stateIn string) string {
	return fmt.Sprintf("STATO ATTUALE:\n%s\n\nEVENTI DELL'EPISODIO:\n%s",
		stateIn, canonEvents)
}

func buildVerdictPrompt(delta, stateIn string) string {
	return fmt.Sprintf("STATO PRECEDENTE:\n%s\n\nDELTA PROPOSTO:\n%s",
		stateIn, delta)
}

func buildCompressPrompt(worldState string, maxTokens int) string {
	return fmt.Sprintf("STATO DEL MONDO:\n%s\n\nLimite: circa %d parole.",
		worldState, maxTokens)
}

func buildRecapPrompt(canonEvents string) string {
	return "EVENTI:\n" + canonEvents
}
