package speech

import "strings"

// DefaultVoice is used when neither the persona nor configuration names one.
const DefaultVoice = "Puck"

var prebuiltVoices = map[string]string{
	"puck":       "Puck",
	"kore":       "Kore",
	"charon":     "Charon",
	"fenrir":     "Fenrir",
	"aoede":      "Aoede",
	"leda":       "Leda",
	"orus":       "Orus",
	"zephyr":     "Zephyr",
	"callirrhoe": "Callirrhoe",
	"enceladus":  "Enceladus",
}

// ResolveVoice picks the first recognised prebuilt voice from candidates, in
// order of preference. Unknown names are skipped.
func ResolveVoice(candidates ...string) string {
	for _, c := range candidates {
		normalized := strings.ToLower(strings.TrimSpace(c))
		if normalized == "" {
			continue
		}
		if v, ok := prebuiltVoices[normalized]; ok {
			return v
		}
	}
	return DefaultVoice
}
