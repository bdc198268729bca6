package coach

import (
	"fmt"
	"strings"
)

// Live-session system instructions.
const (
	TranscriptionInstruction = "Tu es un assistant de transcription ultra-précis. Ta seule tâche est de transcrire ce que dit l'utilisateur en français. Ne réponds pas, ne commente pas, transcris simplement."

	RoleplayInstruction = "Vous êtes un coach commercial expert et un partenaire de jeu de rôle. Engagez des conversations de vente réalistes avec l'utilisateur, en vous basant sur des méthodologies comme SPIN et DISC. Fournissez des retours constructifs. Soyez amical et encourageant."

	// RoleplayVoice is the prebuilt voice of the role-play partner.
	RoleplayVoice = "Kore"
)

// FileInstruction accompanies an uploaded recording.
const FileInstruction = "Transcris cet audio en français. Fournis uniquement la transcription textuelle, sans aucun commentaire ou phrase supplémentaire."

const reportRole = "Vous êtes un coach commercial expert, spécialisé dans l'analyse des appels de vente B2C et conseille en mutuelle santé."

// ReportPrompt builds the evaluation request for transcript against the
// given criteria. The transcript is fenced so that its content cannot be
// mistaken for instructions.
func ReportPrompt(transcript string, criteria []Criterion) string {
	var b strings.Builder
	b.WriteString(reportRole)
	b.WriteString("\nVotre mission est d'analyser la transcription d'appel suivante en vous basant sur les critères et méthodologies de vente fournis.\n\n")

	b.WriteString("TRANSCRIPTION DE L'APPEL :\n```\n")
	b.WriteString(strings.ReplaceAll(transcript, "```", "'''"))
	b.WriteString("\n```\n\nCRITÈRES D'ANALYSE DÉTAILLÉS :\n")
	for _, c := range criteria {
		fmt.Fprintf(&b, "\n--- CRITERE : %s ---\n%s\n", c.Title, c.Method)
	}

	b.WriteString("\nINSTRUCTIONS :\nPour chaque critère listé ci-dessous, fournissez une évaluation détaillée :\n")
	for i, c := range criteria {
		fmt.Fprintf(&b, "%d.  **%s**: Note sur 10. %s\n", i+1, c.Title, c.Question)
	}
	b.WriteString("\nEn plus des notes, fournissez un **Résumé Global** avec les points forts, les axes d'amélioration, et un conseil pratique principal.\n")
	b.WriteString("Structurez votre réponse en Markdown pour une lecture facile.\n")
	return b.String()
}
