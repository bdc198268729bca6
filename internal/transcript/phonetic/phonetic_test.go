package phonetic_test

import (
	"testing"

	"github.com/MrWong99/callcoach/internal/transcript/phonetic"
)

var glossary = []string{"Staffy", "TimeOne", "Sercure", "Mutuelle"}

func TestMatcher_PhoneticMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("staffi", glossary)
	if !matched {
		t.Fatal("Match(staffi): matched=false, want true")
	}
	if corrected != "Staffy" {
		t.Errorf("corrected = %q, want Staffy", corrected)
	}
	if conf < 0.85 {
		t.Errorf("confidence = %f, want >= 0.85", conf)
	}
}

func TestMatcher_SplitWords(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, _, matched := m.Match("time one", glossary)
	if !matched || corrected != "TimeOne" {
		t.Errorf("Match(time one) = %q, %v; want TimeOne, true", corrected, matched)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, w := range []string{"bonjour", "comment", "", "   "} {
		corrected, conf, matched := m.Match(w, glossary)
		if matched {
			t.Errorf("Match(%q) matched %q", w, corrected)
		}
		if corrected != w || conf != 0 {
			t.Errorf("Match(%q) = %q, %f; want input unchanged and 0", w, corrected, conf)
		}
	}
}

func TestMatcher_EmptyTerms(t *testing.T) {
	t.Parallel()

	if _, _, matched := phonetic.New().Match("staffy", nil); matched {
		t.Error("no terms should never match")
	}
}

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	c := phonetic.NewCorrector(glossary)

	tests := []struct {
		name  string
		in    string
		want  string
		fixes int
	}{
		{"unchanged", "Bonjour, comment allez-vous ?", "Bonjour, comment allez-vous ?", 0},
		{"single word", "Je vous appelle de la part de staffi.", "Je vous appelle de la part de Staffy.", 1},
		{"split term", "Chez time one nous proposons", "Chez TimeOne nous proposons", 1},
		{"canonical casing", "staffy", "Staffy", 1},
		{"already canonical", "Staffy", "Staffy", 0},
		{"neighbour kept", "le Staffy est prêt", "le Staffy est prêt", 0},
		{"no cross punctuation", "time. one", "time. one", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, fixes := c.Correct(tt.in)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if len(fixes) != tt.fixes {
				t.Errorf("fixes = %+v, want %d", fixes, tt.fixes)
			}
		})
	}
}

func TestCorrector_NilIsNoOp(t *testing.T) {
	t.Parallel()

	c := phonetic.NewCorrector([]string{" ", ""})
	if c != nil {
		t.Fatal("blank glossary should yield nil corrector")
	}
	got, fixes := c.Correct("staffi")
	if got != "staffi" || fixes != nil {
		t.Errorf("nil Correct = %q, %v", got, fixes)
	}
}
