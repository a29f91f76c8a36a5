// Package character defines the closed set of conversation characters and the
// deterministic character→language mapping used for joint switches.
package character

import "strings"

type ID string

const (
	Haruka ID = "haruka"
	Kenji  ID = "kenji"
	Yuki   ID = "yuki"
)

// Default is the character bound to a freshly created session.
const Default = Haruka

type Language string

const (
	LangJapanese Language = "japanese"
	LangEnglish  Language = "english"
	LangMixed    Language = "mixed"
)

// DefaultLanguage is the language mode bound to a freshly created session.
const DefaultLanguage = LangMixed

// All returns the closed character set in stable order.
func All() []ID {
	return []ID{Haruka, Kenji, Yuki}
}

func Valid(id ID) bool {
	switch id {
	case Haruka, Kenji, Yuki:
		return true
	default:
		return false
	}
}

func ValidLanguage(l Language) bool {
	switch l {
	case LangJapanese, LangEnglish, LangMixed:
		return true
	default:
		return false
	}
}

// LanguageFor maps a character to the language mode it always speaks in.
// Switching character is a joint transition: the session language follows this
// mapping, never the previous language.
func LanguageFor(id ID) Language {
	switch id {
	case Haruka:
		return LangMixed
	case Kenji:
		return LangEnglish
	case Yuki:
		return LangJapanese
	default:
		return DefaultLanguage
	}
}

// Parse normalizes raw wire input into a character ID.
func Parse(raw string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	return id, Valid(id)
}

// ParseLanguage normalizes raw wire input into a language mode.
func ParseLanguage(raw string) (Language, bool) {
	l := Language(strings.ToLower(strings.TrimSpace(raw)))
	return l, ValidLanguage(l)
}

func Name(id ID) string {
	switch id {
	case Haruka:
		return "Haruka"
	case Kenji:
		return "Kenji"
	case Yuki:
		return "Yuki"
	default:
		return string(id)
	}
}

// IdleEmotion is the emotion attached to a character reply when the generator
// provided no animation cue of its own.
func IdleEmotion(id ID) string {
	switch id {
	case Haruka:
		return "cheerful"
	case Kenji:
		return "calm"
	case Yuki:
		return "shy"
	default:
		return "neutral"
	}
}
