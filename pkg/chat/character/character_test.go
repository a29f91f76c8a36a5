package character

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want ID
		ok   bool
	}{
		{"haruka", Haruka, true},
		{"  Kenji ", Kenji, true},
		{"YUKI", Yuki, true},
		{"sakura", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.raw)
		if ok != tc.ok {
			t.Fatalf("Parse(%q) ok=%v, want %v", tc.raw, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("Parse(%q)=%q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	if l, ok := ParseLanguage(" Japanese "); !ok || l != LangJapanese {
		t.Fatalf("ParseLanguage(Japanese)=%q ok=%v", l, ok)
	}
	if _, ok := ParseLanguage("latin"); ok {
		t.Fatalf("expected latin to be rejected")
	}
}

func TestLanguageFor_JointMapping(t *testing.T) {
	cases := map[ID]Language{
		Haruka: LangMixed,
		Kenji:  LangEnglish,
		Yuki:   LangJapanese,
	}
	for id, want := range cases {
		if got := LanguageFor(id); got != want {
			t.Fatalf("LanguageFor(%s)=%s, want %s", id, got, want)
		}
	}
	if got := LanguageFor(ID("nobody")); got != DefaultLanguage {
		t.Fatalf("LanguageFor(unknown)=%s, want default %s", got, DefaultLanguage)
	}
}

func TestAll_CoversValidSet(t *testing.T) {
	for _, id := range All() {
		if !Valid(id) {
			t.Fatalf("All() returned invalid id %q", id)
		}
		if Name(id) == "" || IdleEmotion(id) == "" {
			t.Fatalf("id %q missing name or idle emotion", id)
		}
	}
}
