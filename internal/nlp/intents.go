package nlp

// intentTable is the standard catalog. Order matters only for tie-breaking:
// equal scores resolve to the earlier row, so more specific intents sit
// above generic ones.
var intentTable = []intentDef{
	{
		name:     "play_music",
		keywords: []string{"play", "music", "song", "songs", "listen", "playlist", "album", "artist", "tune"},
		weight:   1.0,
		boost: &contextBoost{
			afterIntents: []string{"control_volume", "switch_audio"},
			amount:       0.3,
		},
		extract: extractPlayMusic,
	},
	{
		name:     "control_volume",
		keywords: []string{"volume", "louder", "quieter", "mute", "unmute", "loud", "quiet", "softer"},
		weight:   1.0,
		boost: &contextBoost{
			afterIntents: []string{"play_music", "switch_audio"},
			amount:       0.5,
		},
		extract: extractControlVolume,
	},
	{
		name:     "switch_audio",
		keywords: []string{"headphones", "headset", "earbuds", "speakers", "speaker", "bluetooth", "output", "audio", "hdmi"},
		weight:   1.0,
		boost: &contextBoost{
			afterIntents: []string{"play_music", "control_volume"},
			amount:       0.3,
		},
		extract: extractSwitchAudio,
	},
	{
		name:     "system_control",
		keywords: []string{"open", "close", "launch", "run", "execute", "kill", "start", "stop", "restart", "program", "application", "app"},
		weight:   0.9,
		extract:  extractSystemControl,
	},
	{
		name:     "file_operation",
		keywords: []string{"download", "upload", "file", "copy", "move", "delete", "save", "folder", "document"},
		weight:   1.0,
		extract:  extractFileOperation,
	},
	{
		name:     "hardware_control",
		keywords: []string{"gpio", "pin", "relay", "led", "sensor", "servo", "motor", "hardware"},
		weight:   1.1,
		extract:  extractHardwareControl,
	},
	{
		name:     "smart_home",
		keywords: []string{"lights", "light", "lamp", "thermostat", "temperature", "heating", "blinds", "curtains", "lock", "unlock", "alarm"},
		weight:   1.2,
		boost: &contextBoost{
			locations: []string{"home", "house"},
			amount:    0.3,
		},
		extract: extractSmartHome,
	},
	{
		name:     "communication",
		keywords: []string{"call", "text", "message", "send", "email", "sms", "phone", "notify"},
		weight:   1.0,
		extract:  extractCommunication,
	},
	{
		name:     "navigation",
		keywords: []string{"navigate", "directions", "route", "map", "drive", "traffic", "destination"},
		weight:   1.0,
		boost: &contextBoost{
			locations: []string{"car", "vehicle"},
			amount:    0.3,
		},
		extract: extractNavigation,
	},
	{
		name:     "question_answer",
		keywords: []string{"what", "what's", "who", "who's", "when", "where", "why", "how", "question", "explain", "define", "tell", "weather"},
		weight:   0.7,
		extract:  extractQuestion,
	},
	{
		name:            "follow_up",
		keywords:        []string{"yes", "yeah", "yep", "no", "okay", "ok", "sure", "continue", "again", "more", "also", "too"},
		weight:          1.2,
		requiresContext: true,
	},
}
