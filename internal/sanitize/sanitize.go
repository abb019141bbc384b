// Пакет sanitize — очистка строк перед сохранением в локальный кэш.
// Удаляет управляющие символы (C0: U+0000–U+001F, DEL + C1: U+007F–U+009F)
// и обрезает результат до заданного количества символов (рун).
package sanitize

import (
	"strings"
	"unicode/utf8"
)

// Лимиты длины для полей исследования.
const (
	// MaxDefault — лимит по умолчанию для отображаемых строк.
	MaxDefault = 255
	// MaxIdentifier — лимит для идентификаторов (ID исследования, ID пациента).
	MaxIdentifier = 64
	// MaxShort — лимит для коротких полей (пол, дата YYYYMMDD).
	MaxShort = 10
	// MaxSearchTerm — лимит для поискового запроса.
	MaxSearchTerm = 100
)

// String удаляет управляющие символы и обрезает строку до maxLength рун.
// maxLength <= 0 — пустая строка. Невалидные UTF-8 байты отбрасываются.
func String(input string, maxLength int) string {
	if maxLength <= 0 || input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(input), maxLength*utf8.UTFMax))

	count := 0
	for i := 0; i < len(input) && count < maxLength; {
		r, size := utf8.DecodeRuneInString(input[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if isControl(r) {
			continue
		}
		b.WriteRune(r)
		count++
	}

	return b.String()
}

// Default — String с лимитом MaxDefault.
func Default(input string) string {
	return String(input, MaxDefault)
}

// Optional очищает необязательное значение. nil — пустая строка.
func Optional(input *string, maxLength int) string {
	if input == nil {
		return ""
	}
	return String(*input, maxLength)
}

// OrDefault очищает значение и подставляет def, если результат пустой.
func OrDefault(input *string, maxLength int, def string) string {
	if s := Optional(input, maxLength); s != "" {
		return s
	}
	return def
}

// isControl — символ из диапазонов U+0000–U+001F или U+007F–U+009F.
func isControl(r rune) bool {
	return r <= 0x1F || (r >= 0x7F && r <= 0x9F)
}
