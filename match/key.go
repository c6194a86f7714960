package match

import "fmt"

// keyPositions maps the 24 recognized key symbols to positions on the
// pitch circle: majors occupy [0,12), minors [12,24). Spelling is
// sharp-based; there are no flat aliases.
var keyPositions = map[string]int{
	"C": 0, "C#": 1, "D": 2, "D#": 3, "E": 4, "F": 5,
	"F#": 6, "G": 7, "G#": 8, "A": 9, "A#": 10, "B": 11,

	"Cm": 12, "C#m": 13, "Dm": 14, "D#m": 15, "Em": 16, "Fm": 17,
	"F#m": 18, "Gm": 19, "G#m": 20, "Am": 21, "A#m": 22, "Bm": 23,
}

// InvalidKeyError reports a key symbol outside the 24 recognized values.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid musical key: %q", e.Key)
}

// KeyPosition returns the circle position of a key symbol.
func KeyPosition(key string) (int, error) {
	pos, ok := keyPositions[key]
	if !ok {
		return 0, &InvalidKeyError{Key: key}
	}
	return pos, nil
}

// IsMinor reports whether a recognized key symbol is a minor key.
func IsMinor(key string) (bool, error) {
	pos, err := KeyPosition(key)
	if err != nil {
		return false, err
	}
	return pos >= 12, nil
}

// SemitoneDistance returns the signed semitone shift that moves
// sourceKey onto targetKey, always in (-6, 6]. When the modes differ
// the source key is first bridged to the target's mode through its
// relative key (major +9, minor -9, mod 12), so C and Am come out at
// distance 0. The tritone resolves to +6, never -6.
func SemitoneDistance(sourceKey, targetKey string) (int, error) {
	source, err := KeyPosition(sourceKey)
	if err != nil {
		return 0, err
	}
	target, err := KeyPosition(targetKey)
	if err != nil {
		return 0, err
	}

	sourceMinor := source >= 12
	targetMinor := target >= 12

	if sourceMinor != targetMinor {
		if targetMinor {
			// major source -> its relative minor
			source = (source+9)%12 + 12
		} else {
			// minor source -> its relative major (-9 == +3 mod 12)
			source = (source - 12 + 3) % 12
		}
	}

	diff := ((target-source)%12 + 12) % 12
	if diff > 6 {
		diff -= 12
	}
	return diff, nil
}
