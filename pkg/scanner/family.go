package scanner

import "strings"

// FamilyUnknown marks devices that answer the control port but match no
// known firmware string.
const FamilyUnknown = "UNKNOWN"

// familyDictionary maps firmware string fragments to a miner family.
// Order matters: first match wins.
var familyDictionary = []struct {
	family    string
	fragments []string
}{
	{"Antminer", []string{"antminer", "bmminer", "s19", "s21"}},
	{"Whatsminer", []string{"whatsminer", "btminer", "m30", "m50", "m60"}},
	{"Avalon", []string{"avalon", "canaan"}},
	{"Braiins", []string{"braiins", "bosminer", "bos"}},
	{"Vnish", []string{"vnish"}},
	{"LuxOS", []string{"luxos", "luxor"}},
}

// IdentifyFamily infers a miner family from a firmware Type/Miner string
func IdentifyFamily(s string) string {
	lower := strings.ToLower(s)
	for _, entry := range familyDictionary {
		for _, frag := range entry.fragments {
			if strings.Contains(lower, frag) {
				return entry.family
			}
		}
	}
	return FamilyUnknown
}
