package tts

import (
	"fmt"
	"strings"
)

// VoicePrefix marks a voice name served by the Aliyun DashScope engine.
const VoicePrefix = "aliyun:"

// Fallbacks for voice names without the prefix.
const (
	DefaultVoiceID  = "Cherry"
	DefaultLanguage = "Chinese"
)

// Voice describes one entry of the voice catalogue.
type Voice struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Gender      string `json:"gender"`
	Language    string `json:"language"`
}

// Name returns the catalogue name aliyun:<id>-<display>-<gender>-<language>.
func (v Voice) Name() string {
	return fmt.Sprintf("%s%s-%s-%s-%s", VoicePrefix, v.ID, v.DisplayName, v.Gender, v.Language)
}

var catalogue = []Voice{
	{ID: "Cherry", DisplayName: "樱桃-甜美", Gender: "Female", Language: "Chinese"},
	{ID: "Serena", DisplayName: "塞琳娜-知性", Gender: "Female", Language: "Chinese"},
	{ID: "Ethan", DisplayName: "伊森-成熟", Gender: "Male", Language: "Chinese"},
	{ID: "Chelsie", DisplayName: "切尔西-活力", Gender: "Female", Language: "Chinese"},
	{ID: "Cherry", DisplayName: "Cherry-Sweet", Gender: "Female", Language: "English"},
	{ID: "Serena", DisplayName: "Serena-Elegant", Gender: "Female", Language: "English"},
	{ID: "Ethan", DisplayName: "Ethan-Mature", Gender: "Male", Language: "English"},
	{ID: "Chelsie", DisplayName: "Chelsie-Energetic", Gender: "Female", Language: "English"},
	{ID: "Ryan", DisplayName: "Ryan-成熟", Gender: "Male", Language: "English"},
}

// Voices returns the supported voices.
func Voices() []Voice {
	return append([]Voice(nil), catalogue...)
}

// VoiceNames returns the catalogue names of the supported voices.
func VoiceNames() []string {
	names := make([]string, len(catalogue))
	for i, voice := range catalogue {
		names[i] = voice.Name()
	}

	return names
}

// IsAliyunVoice reports whether name carries the aliyun: prefix.
func IsAliyunVoice(name string) bool {
	return strings.HasPrefix(name, VoicePrefix)
}

// ParseVoiceName returns the engine voice id and language of a catalogue
// name. The id is the first dash-separated field and the language the last.
func ParseVoiceName(name string) (string, string) {
	if !IsAliyunVoice(name) {
		return DefaultVoiceID, DefaultLanguage
	}

	parts := strings.Split(strings.TrimPrefix(name, VoicePrefix), "-")

	voiceID := parts[0]
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	language := DefaultLanguage
	if len(parts) > 1 && parts[len(parts)-1] != "" {
		language = parts[len(parts)-1]
	}

	return voiceID, language
}
