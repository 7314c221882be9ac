package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/anatolykoptev/go_media/internal/engine"
)

const (
	choicePrefix = "dl"
	choiceAudio  = "audio"
)

var qualityLabels = map[engine.Quality]string{
	engine.QualityAuto: "⚡ Auto",
	engine.Quality360:  "360p",
	engine.Quality480:  "480p",
	engine.Quality720:  "720p",
	engine.Quality1080: "1080p",
	engine.QualityBest: "Best",
}

// qualityKeyboard offers every quality plus audio-only, three per row.
// Callback data is "dl:<quality|audio>:<token>".
func qualityKeyboard(token string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, q := range engine.Qualities {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(qualityLabels[q], choiceData(string(q), token)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🎵 Audio (mp3)", choiceData(choiceAudio, token)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func choiceData(choice, token string) string {
	return choicePrefix + ":" + choice + ":" + token
}

// parseChoice decodes callback data built by choiceData.
func parseChoice(data string) (engine.Quality, engine.Format, string, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != choicePrefix || parts[2] == "" {
		return "", "", "", false
	}
	if parts[1] == choiceAudio {
		return engine.QualityAuto, engine.FormatAudio, parts[2], true
	}
	return engine.ParseQuality(parts[1]), engine.FormatVideo, parts[2], true
}
