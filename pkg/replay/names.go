package replay

// characterNames maps external character ids to display names.
var characterNames = map[int]string{
	0:  "Captain Falcon",
	1:  "Donkey Kong",
	2:  "Fox",
	3:  "Mr. Game & Watch",
	4:  "Kirby",
	5:  "Bowser",
	6:  "Link",
	7:  "Luigi",
	8:  "Mario",
	9:  "Marth",
	10: "Mewtwo",
	11: "Ness",
	12: "Peach",
	13: "Pikachu",
	14: "Ice Climbers",
	15: "Jigglypuff",
	16: "Samus",
	17: "Yoshi",
	18: "Zelda",
	19: "Sheik",
	20: "Falco",
	21: "Young Link",
	22: "Dr. Mario",
	23: "Roy",
	24: "Pichu",
	25: "Ganondorf",
}

// stageNames maps stage ids to display names. Covers tournament-legal
// stages plus the common casual picks; everything else resolves to Unknown.
var stageNames = map[int]string{
	2:  "Fountain of Dreams",
	3:  "Pokemon Stadium",
	8:  "Yoshi's Story",
	28: "Dream Land",
	31: "Battlefield",
	32: "Final Destination",
}

// CharacterName resolves an external character id to a display name.
func CharacterName(id int) string {
	if name, ok := characterNames[id]; ok {
		return name
	}
	return "Unknown"
}

// StageName resolves a stage id to a display name.
func StageName(id int) string {
	if name, ok := stageNames[id]; ok {
		return name
	}
	return "Unknown"
}
