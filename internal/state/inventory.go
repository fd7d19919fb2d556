package state

import "encoding/json"

func encodeMap(m map[string]float64) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMap(raw string, out *map[string]float64) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}
