package nlp

import (
	"regexp"
	"strconv"
	"strings"
)

// Parameter extraction is token scans plus a handful of anchored patterns,
// all case-insensitive because the input is lowered before dispatch.
var (
	artistRe       = regexp.MustCompile(`\bby\s+(.+)$`)
	pinRe          = regexp.MustCompile(`\b(?:pin|gpio)\s+(\d+)`)
	valueRe        = regexp.MustCompile(`\b(?:to|value)\s+(\d+)\b`)
	percentRe      = regexp.MustCompile(`\b(\d{1,3})\s*%`)
	temperatureRe  = regexp.MustCompile(`\b(\d+)\s*(?:degrees|°)`)
	urlRe          = regexp.MustCompile(`https?://\S+`)
	pathRe         = regexp.MustCompile(`~?(?:/[\w.\-]+)+/?`)
	destinationRe  = regexp.MustCompile(`\bto\s+(?:the\s+)?(.+)$`)
	trailingModeRe = regexp.MustCompile(`\s+by\s+\w+$`)
)

// tokenSet speeds up membership checks in the extractors below.
func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// firstGroupHit walks groups in order and returns the label of the first
// group with a token hit. Fixed order keeps extraction deterministic when an
// utterance mentions several.
func firstGroupHit(set map[string]bool, groups []wordGroup) (string, bool) {
	for _, g := range groups {
		for _, w := range g.words {
			if set[w] {
				return g.label, true
			}
		}
	}
	return "", false
}

type wordGroup struct {
	label string
	words []string
}

// ─── play_music ───

var (
	musicGenres = []string{"jazz", "rock", "classical", "pop", "electronic", "ambient", "folk", "metal", "blues", "country"}

	musicPlatforms = []string{"spotify", "apple music", "youtube", "soundcloud"}

	musicMoods = []wordGroup{
		{"relaxing", []string{"relaxing", "calm", "chill", "peaceful", "mellow"}},
		{"energetic", []string{"energetic", "upbeat", "workout", "pumping"}},
		{"sad", []string{"sad", "melancholy", "gloomy"}},
		{"happy", []string{"happy", "cheerful", "joyful"}},
	}

	musicStopwords = map[string]bool{"play": true, "music": true, "song": true, "some": true}
)

func extractPlayMusic(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	set := tokenSet(tokens)

	for _, genre := range musicGenres {
		if set[genre] {
			params["genre"] = genre
			break
		}
	}
	for _, platform := range musicPlatforms {
		if strings.Contains(lowered, platform) {
			params["platform"] = platform
			break
		}
	}
	if mood, ok := firstGroupHit(set, musicMoods); ok {
		params["mood"] = mood
	}
	if m := artistRe.FindStringSubmatch(lowered); m != nil {
		params["artist"] = strings.TrimSpace(m[1])
	}

	if len(params) == 0 {
		var rest []string
		for _, t := range tokens {
			if !musicStopwords[t] {
				rest = append(rest, t)
			}
		}
		if len(rest) > 0 {
			params["query"] = strings.Join(rest, " ")
		}
	}
	return params
}

// ─── control_volume ───

var volumeActions = []wordGroup{
	{"unmute", []string{"unmute"}},
	{"mute", []string{"mute", "silence", "silent"}},
	{"max", []string{"max", "maximum", "full", "loudest"}},
	{"min", []string{"min", "minimum", "lowest"}},
	{"up", []string{"up", "louder", "raise", "increase", "higher"}},
	{"down", []string{"down", "quieter", "lower", "decrease", "softer", "reduce"}},
}

func extractControlVolume(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	set := tokenSet(tokens)

	if action, ok := firstGroupHit(set, volumeActions); ok {
		params["action"] = action
	}

	if m := percentRe.FindStringSubmatch(lowered); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n <= 100 {
			params["level"] = m[1]
		}
	} else {
		for _, t := range tokens {
			if n, err := strconv.Atoi(t); err == nil && n >= 0 && n <= 100 {
				params["level"] = t
				break
			}
		}
	}
	return params
}

// ─── switch_audio ───

var audioDevices = []wordGroup{
	{"headphones", []string{"headphones", "headphone", "headset", "earbuds"}},
	{"speakers", []string{"speakers", "speaker"}},
	{"bluetooth", []string{"bluetooth"}},
	{"stream", []string{"rtsp", "stream", "streaming", "cast"}},
	{"hdmi", []string{"hdmi", "tv", "television"}},
	{"usb", []string{"usb"}},
}

func extractSwitchAudio(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	if device, ok := firstGroupHit(tokenSet(tokens), audioDevices); ok {
		params["device"] = device
	}
	return params
}

// ─── system_control ───

var systemActions = []string{"open", "close", "launch", "run", "execute", "kill", "start", "stop"}

func extractSystemControl(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	for i, t := range tokens {
		for _, action := range systemActions {
			if t == action {
				params["action"] = action
				if rest := strings.Join(tokens[i+1:], " "); rest != "" {
					params["target"] = rest
				}
				return params
			}
		}
	}
	return params
}

// ─── hardware_control ───

var hardwareActions = []string{"on", "off", "toggle", "read", "write"}

func extractHardwareControl(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	set := tokenSet(tokens)

	if m := pinRe.FindStringSubmatch(lowered); m != nil {
		params["pin"] = m[1]
	}
	for _, action := range hardwareActions {
		if set[action] {
			params["action"] = action
			break
		}
	}
	if m := valueRe.FindStringSubmatch(lowered); m != nil {
		params["value"] = m[1]
	} else if m := percentRe.FindStringSubmatch(lowered); m != nil {
		params["value"] = m[1]
	}
	return params
}

// ─── smart_home ───

var (
	homeDevices = []wordGroup{
		{"lights", []string{"lights", "light", "lamp"}},
		{"temperature", []string{"temperature", "thermostat", "heating", "heat", "ac"}},
		{"security", []string{"security", "alarm", "camera"}},
		{"blinds", []string{"blinds", "curtains", "shades"}},
	}

	homeActions = []wordGroup{
		{"unlock", []string{"unlock"}},
		{"lock", []string{"lock"}},
		{"dim", []string{"dim", "darker"}},
		{"brighten", []string{"brighten", "brighter"}},
		{"on", []string{"on"}},
		{"off", []string{"off"}},
	}

	homeRooms = []string{"living room", "bedroom", "kitchen", "bathroom", "office", "garage", "hallway", "basement", "garden"}
)

func extractSmartHome(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	set := tokenSet(tokens)

	if device, ok := firstGroupHit(set, homeDevices); ok {
		params["device_type"] = device
	}
	if action, ok := firstGroupHit(set, homeActions); ok {
		params["action"] = action
	}
	for _, room := range homeRooms {
		if strings.Contains(lowered, room) {
			params["location"] = room
			break
		}
	}
	if m := temperatureRe.FindStringSubmatch(lowered); m != nil {
		params["temperature"] = m[1]
	}
	return params
}

// ─── file_operation ───

var fileActions = []string{"download", "upload", "copy", "move", "delete", "create", "save"}

func extractFileOperation(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	set := tokenSet(tokens)

	if m := urlRe.FindString(lowered); m != "" {
		params["url"] = m
	}
	// Paths after the URL match so "https://x/y" is not re-reported as a path.
	stripped := urlRe.ReplaceAllString(lowered, "")
	if m := pathRe.FindString(stripped); m != "" {
		params["path"] = m
	}
	for _, action := range fileActions {
		if set[action] {
			params["action"] = action
			break
		}
	}
	return params
}

// ─── navigation ───

var travelModes = []wordGroup{
	{"driving", []string{"driving", "drive", "car"}},
	{"walking", []string{"walking", "walk", "foot"}},
	{"transit", []string{"transit", "bus", "train", "subway"}},
	{"cycling", []string{"cycling", "cycle", "bike", "biking"}},
}

func extractNavigation(lowered string, tokens []string) map[string]string {
	params := map[string]string{}

	if m := destinationRe.FindStringSubmatch(lowered); m != nil {
		dest := trailingModeRe.ReplaceAllString(strings.TrimSpace(m[1]), "")
		if dest != "" {
			params["destination"] = dest
		}
	}
	if mode, ok := firstGroupHit(tokenSet(tokens), travelModes); ok {
		params["mode"] = mode
	}
	return params
}

// ─── communication ───

var commVerbs = regexp.MustCompile(`\b(call|text|message|email)\s+([a-z]+)`)

func extractCommunication(lowered string, tokens []string) map[string]string {
	params := map[string]string{}
	if m := commVerbs.FindStringSubmatch(lowered); m != nil {
		params["action"] = m[1]
		params["recipient"] = m[2]
	}
	return params
}

// ─── question_answer ───

func extractQuestion(lowered string, tokens []string) map[string]string {
	return map[string]string{"query": lowered}
}
