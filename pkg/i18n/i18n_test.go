package i18n

import "testing"

func newTestTranslator() *Translator {
	tr := NewTranslator("da")
	tr.Load("da", Catalog{
		"greeting": "Hej %1",
		"only_da":  "kun dansk",
	})
	tr.Load("en", Catalog{
		"greeting": "Hello %1",
	})
	return tr
}

func TestTranslator_T(t *testing.T) {
	tr := newTestTranslator()

	if got := tr.T("greeting", "Ida"); got != "Hej Ida" {
		t.Errorf("expected %q, got %q", "Hej Ida", got)
	}

	tr.SetLocale("en")
	if got := tr.T("greeting", "Ida"); got != "Hello Ida" {
		t.Errorf("expected %q, got %q", "Hello Ida", got)
	}
	if got := tr.T("only_da"); got != "kun dansk" {
		t.Errorf("expected fallback to da, got %q", got)
	}
}

func TestTranslator_UnknownKey(t *testing.T) {
	tr := newTestTranslator()
	if got := tr.T("missing.key"); got != "missing.key" {
		t.Errorf("expected key echoed back, got %q", got)
	}
	if tr.Has("missing.key") {
		t.Error("expected Has to be false for unknown key")
	}
}

func TestInterpolate_ManyArgs(t *testing.T) {
	args := make([]any, 10)
	for i := range args {
		args[i] = i + 1
	}
	if got := interpolate("%1-%10", args...); got != "1-10" {
		t.Errorf("expected %q, got %q", "1-10", got)
	}
}

func TestTranslator_Locales(t *testing.T) {
	got := newTestTranslator().Locales()
	if len(got) != 2 || got[0] != "da" || got[1] != "en" {
		t.Errorf("expected [da en], got %v", got)
	}
}
