package bot

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"ipuwatch/internal/source"
	"ipuwatch/internal/storage"
)

const togglePrefix = "toggle:"

// prefsKeyboard builds the inline preference toggles shown by /start. The
// callback data is "toggle:<kind>".
func prefsKeyboard(p storage.Preferences) *tele.ReplyMarkup {
	labels := map[source.Kind]string{
		source.KindResult:    "Exam Results",
		source.KindDatesheet: "Datesheets",
		source.KindCircular:  "Circulars/Notices",
	}

	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(labels))
	for _, kind := range source.Kinds() {
		mark := "❌"
		if p.Wants(kind) {
			mark = "✅"
		}
		rows = append(rows, rm.Row(rm.Data(
			mark+" "+labels[kind],
			"", // unique not needed; data carries the full route
			togglePrefix+string(kind),
		)))
	}
	rm.Inline(rows...)
	return rm
}

// parseToggle extracts the source kind from "toggle:<kind>" callback data.
func parseToggle(data string) (source.Kind, bool) {
	rest, ok := strings.CutPrefix(data, togglePrefix)
	if !ok {
		return "", false
	}
	kind, err := source.ParseKind(strings.TrimSpace(rest))
	if err != nil {
		return "", false
	}
	return kind, true
}
