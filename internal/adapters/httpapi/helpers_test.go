package httpapi_test

import (
	"strconv"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// jsonID reads the numeric id of a decoded JSON object.
func jsonID(body map[string]any) string {
	id, _ := body["id"].(float64)
	return strconv.FormatInt(int64(id), 10)
}
