package search

import (
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MachineType is one of the canonical machine-tool categories used for filtering.
type MachineType string

const (
	MachineMachining MachineType = "machining"
	MachineTurning   MachineType = "turning"
	MachineYokonaka  MachineType = "yokonaka"
	MachineRadial    MachineType = "radial"
	MachineOther     MachineType = "other"
)

var CanonicalMachineTypes = []MachineType{MachineMachining, MachineTurning, MachineYokonaka, MachineRadial, MachineOther}

// machineTypeAliases maps stored spellings to canonical keys. English keys are
// lower case because lookups retry with the lower-cased token.
var machineTypeAliases = map[string]MachineType{
	"machining":       MachineMachining,
	"mc":              MachineMachining,
	"machiningcenter": MachineMachining,
	"マシニング":           MachineMachining,
	"マシニングセンタ":        MachineMachining,
	"マシニングセンター":       MachineMachining,
	"立形マシニングセンタ":      MachineMachining,
	"縦型マシニング":         MachineMachining,

	"turning":  MachineTurning,
	"lathe":    MachineTurning,
	"nclathe":  MachineTurning,
	"旋盤":       MachineTurning,
	"nc旋盤":     MachineTurning,
	"cnc旋盤":    MachineTurning,
	"ターニング":    MachineTurning,
	"ターニングセンタ": MachineTurning,
	"複合旋盤":     MachineTurning,

	"yokonaka":         MachineYokonaka,
	"横中":               MachineYokonaka,
	"横中ぐり":             MachineYokonaka,
	"横中ぐり盤":            MachineYokonaka,
	"横中繰り盤":            MachineYokonaka,
	"横型中ぐり盤":           MachineYokonaka,
	"horizontalboring": MachineYokonaka,

	"radial":      MachineRadial,
	"radialdrill": MachineRadial,
	"drill":       MachineRadial,
	"drilling":    MachineRadial,
	"ラジアル":        MachineRadial,
	"ラジアルボール盤":    MachineRadial,
	"ボール盤":        MachineRadial,

	"other":  MachineOther,
	"others": MachineOther,
	"その他":    MachineOther,
}

// NormalizeMachineTypes folds a stored machine-type value into canonical keys.
// raw may be nil, a string (comma separated), []string, []any or []MachineType.
// The result has no duplicates, keeps first-seen order and is never nil.
// Unknown tokens become MachineOther; blank tokens are skipped.
func NormalizeMachineTypes(raw any) []MachineType {
	var tokens []string
	switch v := raw.(type) {
	case nil:
	case string:
		tokens = strings.Split(v, ",")
	case MachineType:
		tokens = strings.Split(string(v), ",")
	case []string:
		tokens = v
	case []MachineType:
		for _, item := range v {
			tokens = append(tokens, string(item))
		}
	case []any:
		for _, item := range v {
			switch el := item.(type) {
			case nil:
			case string:
				tokens = append(tokens, el)
			default:
				tokens = append(tokens, string(MachineOther))
			}
		}
	default:
		tokens = []string{string(MachineOther)}
	}

	out := make([]MachineType, 0, len(tokens))
	seen := make(map[MachineType]struct{}, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key := lookupMachineType(token)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// NormalizeMachineTypesJSON decodes a raw JSON member (string, array or null) and normalizes it.
func NormalizeMachineTypesJSON(raw json.RawMessage) []MachineType {
	if len(raw) == 0 {
		return []MachineType{}
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return []MachineType{MachineOther}
	}
	return NormalizeMachineTypes(decoded)
}

// NormalizeMachineType maps a single token. Unknown or blank input yields MachineOther.
func NormalizeMachineType(token string) MachineType {
	token = strings.TrimSpace(token)
	if token == "" {
		return MachineOther
	}
	return lookupMachineType(token)
}

func lookupMachineType(token string) MachineType {
	lower := strings.ToLower(token)
	stripped := stripSpaces(token)
	lowerStripped := strings.ToLower(stripped)
	for _, candidate := range []string{token, lower, stripped, lowerStripped, foldWidth(lowerStripped)} {
		if key, ok := machineTypeAliases[candidate]; ok {
			return key
		}
	}
	return MachineOther
}

func stripSpaces(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
}

// foldWidth turns full-width latin and half-width katakana into their standard forms.
func foldWidth(value string) string {
	return strings.ToLower(norm.NFKC.String(value))
}

func machineTypeStrings(types []MachineType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
