// Package coach turns recorded calls into text and text into coaching
// reports. It owns the evaluation rubric, the prompts sent to the
// generation service, and the input checks that run before any remote call.
package coach

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed methods/*.txt
var methods embed.FS

// Criterion is one axis of the call evaluation.
type Criterion struct {
	ID      string
	Title   string
	Summary string

	// Question is what the report must answer for this axis, scored out of 10.
	Question string

	// Method is the reference material the evaluation is based on.
	Method string
}

var rubric = []Criterion{
	{
		ID:       "script",
		Title:    "Respect du script et structure",
		Summary:  "Analyse de l'introduction, du questionnement, de la qualification et de la conclusion.",
		Question: "L'agent a-t-il suivi les étapes clés (introduction, découverte, qualification, conclusion) ?",
	},
	{
		ID:       "spin",
		Title:    "Méthode SPIN Selling",
		Summary:  "Évaluation de l'utilisation des questions Situation, Problème, Impact, et Nécessité.",
		Question: "Comment l'agent a-t-il utilisé les questions S, P, I, N ? Donnez des exemples.",
	},
	{
		ID:       "disc",
		Title:    "Adaptation (Méthode DISC)",
		Summary:  "Capacité à identifier et s'adapter au profil comportemental du prospect (Dominant, Influent, Stable, Consciencieux).",
		Question: "L'agent a-t-il adapté son style de communication au prospect ? Quel profil DISC le prospect semble-t-il avoir ?",
	},
	{
		ID:       "trust",
		Title:    "Courbe de la Confiance",
		Summary:  "Création d'une relation de confiance personnelle et professionnelle.",
		Question: "L'agent a-t-il réussi à établir une confiance personnelle et professionnelle ?",
	},
	{
		ID:       "topdown",
		Title:    "Communication Top-Down",
		Summary:  "Clarté et concision du message, en commençant par la conclusion (Pyramid Principle).",
		Question: "Le message de l'agent était-il clair, concis et bien structuré ?",
	},
	{
		ID:       "objections",
		Title:    "Gestion des Objections",
		Summary:  "Efficacité à répondre aux objections courantes du prospect.",
		Question: "Comment l'agent a-t-il géré les objections ?",
	},
}

func init() {
	for i := range rubric {
		b, err := methods.ReadFile("methods/" + rubric[i].ID + ".txt")
		if err != nil {
			panic(fmt.Sprintf("coach: missing method text for %q: %v", rubric[i].ID, err))
		}
		rubric[i].Method = strings.TrimSpace(string(b))
	}
}

// Rubric returns the six evaluation axes in report order.
func Rubric() []Criterion {
	out := make([]Criterion, len(rubric))
	copy(out, rubric)
	return out
}

// Lookup returns the criterion with the given id.
func Lookup(id string) (Criterion, bool) {
	for _, c := range rubric {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}
